// Package dynamodb stores lesson maps in a single DynamoDB table.
//
// Layout:
//
//	PK GRAPH#<id>  SK INFO        graph metadata, carries Owner/CreatedAt for the owner index
//	PK GRAPH#<id>  SK CARD#<id>   one item per card
//	PK GRAPH#<id>  SK LINK#<id>   one item per link
//	PK AUDIT#<id>  SK <ulid>      audit trail, ordered by record id
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// MaxTransactItems is the DynamoDB limit on items in one transaction.
const MaxTransactItems = 100

const (
	entityGraph = "GRAPH"
	entityCard  = "CARD"
	entityLink  = "LINK"
	entityAudit = "AUDIT"

	infoSK = "INFO"
)

// DynamoDBAPI is the part of the DynamoDB client the adapters use.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type infoItem struct {
	PK         string             `dynamodbav:"PK"`
	SK         string             `dynamodbav:"SK"`
	EntityType string             `dynamodbav:"EntityType"`
	Owner      string             `dynamodbav:"Owner"`
	CreatedAt  string             `dynamodbav:"CreatedAt"`
	Version    int                `dynamodbav:"Version"`
	Info       entities.GraphInfo `dynamodbav:"Info"`
}

type cardItem struct {
	PK         string                `dynamodbav:"PK"`
	SK         string                `dynamodbav:"SK"`
	EntityType string                `dynamodbav:"EntityType"`
	Card       entities.CardSnapshot `dynamodbav:"Card"`
}

type linkItem struct {
	PK         string                `dynamodbav:"PK"`
	SK         string                `dynamodbav:"SK"`
	EntityType string                `dynamodbav:"EntityType"`
	Link       entities.LinkSnapshot `dynamodbav:"Link"`
}

type auditItem struct {
	PK         string               `dynamodbav:"PK"`
	SK         string               `dynamodbav:"SK"`
	EntityType string               `dynamodbav:"EntityType"`
	Record     entities.AuditRecord `dynamodbav:"Record"`
}

// GraphStore implements ports.GraphStore on DynamoDB.
type GraphStore struct {
	client     DynamoDBAPI
	tableName  string
	ownerIndex string
	logger     *zap.Logger
}

// NewGraphStore creates a GraphStore. ownerIndex is a GSI with Owner as
// partition key and CreatedAt as sort key.
func NewGraphStore(client DynamoDBAPI, tableName, ownerIndex string, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{
		client:     client,
		tableName:  tableName,
		ownerIndex: ownerIndex,
		logger:     logger.Named("dynamodb"),
	}
}

func graphPK(graphID string) string { return "GRAPH#" + graphID }
func auditPK(graphID string) string { return "AUDIT#" + graphID }
func cardSK(cardID string) string   { return "CARD#" + cardID }
func linkSK(linkID string) string   { return "LINK#" + linkID }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func newInfoItem(info entities.GraphInfo) infoItem {
	return infoItem{
		PK:         graphPK(info.ID),
		SK:         infoSK,
		EntityType: entityGraph,
		Owner:      info.Owner,
		CreatedAt:  info.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		Version:    info.Version,
		Info:       info,
	}
}

func newAuditItem(r entities.AuditRecord) auditItem {
	return auditItem{PK: auditPK(r.GraphID), SK: r.ID, EntityType: entityAudit, Record: r}
}

func (s *GraphStore) CreateGraph(ctx context.Context, info entities.GraphInfo, audit entities.AuditRecord) error {
	infoAV, err := attributevalue.MarshalMap(newInfoItem(info))
	if err != nil {
		return pkgerrors.NewInternalError("marshal graph info").WithCause(err)
	}
	auditAV, err := attributevalue.MarshalMap(newAuditItem(audit))
	if err != nil {
		return pkgerrors.NewInternalError("marshal audit record").WithCause(err)
	}

	notExists, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("build condition").WithCause(err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                 aws.String(s.tableName),
				Item:                      infoAV,
				ConditionExpression:       notExists.Condition(),
				ExpressionAttributeNames:  notExists.Names(),
				ExpressionAttributeValues: notExists.Values(),
			}},
			{Put: &types.Put{TableName: aws.String(s.tableName), Item: auditAV}},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return pkgerrors.NewConflictError(fmt.Sprintf("graph %s already exists", info.ID))
		}
		s.logger.Error("Failed to create graph", zap.Error(err), zap.String("graph_id", info.ID))
		return pkgerrors.NewDatabaseError("create graph", err)
	}

	s.logger.Debug("Graph created", zap.String("graph_id", info.ID), zap.String("owner", info.Owner))
	return nil
}

func (s *GraphStore) ListGraphs(ctx context.Context, owner string) ([]entities.GraphInfo, error) {
	keyCond := expression.Key("Owner").Equal(expression.Value(owner))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build key condition").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(s.ownerIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var out []entities.GraphInfo
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list graphs", err)
		}
		for _, av := range page.Items {
			var item infoItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, pkgerrors.NewDatabaseError("unmarshal graph info", err)
			}
			out = append(out, item.Info)
		}
	}
	return out, nil
}

// LoadGraph reads the whole graph partition with a consistent query.
func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*aggregates.Graph, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(graphPK(graphID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build key condition").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	}

	var (
		info  *entities.GraphInfo
		cards []entities.CardSnapshot
		links []entities.LinkSnapshot
	)
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("load graph", err)
		}
		for _, av := range page.Items {
			sk := stringAttr(av, "SK")
			switch {
			case sk == infoSK:
				var item infoItem
				if err := attributevalue.UnmarshalMap(av, &item); err != nil {
					return nil, pkgerrors.NewDatabaseError("unmarshal graph info", err)
				}
				info = &item.Info
			case strings.HasPrefix(sk, "CARD#"):
				var item cardItem
				if err := attributevalue.UnmarshalMap(av, &item); err != nil {
					return nil, pkgerrors.NewDatabaseError("unmarshal card", err)
				}
				cards = append(cards, item.Card)
			case strings.HasPrefix(sk, "LINK#"):
				var item linkItem
				if err := attributevalue.UnmarshalMap(av, &item); err != nil {
					return nil, pkgerrors.NewDatabaseError("unmarshal link", err)
				}
				links = append(links, item.Link)
			}
		}
	}

	if info == nil {
		return nil, pkgerrors.NewNotFoundError("graph " + graphID)
	}

	s.logger.Debug("Loaded graph",
		zap.String("graph_id", graphID),
		zap.Int("version", info.Version),
		zap.Int("cards", len(cards)),
		zap.Int("links", len(links)),
	)
	return aggregates.ReconstructGraph(*info, cards, links), nil
}

func (s *GraphStore) LoadCard(ctx context.Context, graphID, cardID string) (*entities.Card, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(graphPK(graphID), cardSK(cardID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("load card", err)
	}
	if len(out.Item) == 0 {
		if err := s.requireGraph(ctx, graphID); err != nil {
			return nil, err
		}
		return nil, pkgerrors.NewNotFoundError("card " + cardID)
	}

	var item cardItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("unmarshal card", err)
	}
	return entities.ReconstructCard(item.Card), nil
}

// LoadConnected fetches the cards concurrently; the result keeps the order
// of cardIDs.
func (s *GraphStore) LoadConnected(ctx context.Context, graphID string, cardIDs []string) ([]*entities.Card, error) {
	out := make([]*entities.Card, len(cardIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range cardIDs {
		g.Go(func() error {
			c, err := s.LoadCard(gctx, graphID, id)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyMutation writes m in one transaction. The INFO item is conditioned on
// the expected version, and every delete on the item still being there.
func (s *GraphStore) ApplyMutation(ctx context.Context, m aggregates.Mutation) error {
	items, err := s.transactItems(m)
	if err != nil {
		return err
	}
	if len(items) > MaxTransactItems {
		return pkgerrors.NewValidationError(fmt.Sprintf(
			"change touches %d items, more than the %d a single commit can write", len(items), MaxTransactItems))
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return pkgerrors.NewConflictError(fmt.Sprintf(
				"graph %s changed concurrently: expected version %d", m.GraphID, m.ExpectedVersion))
		}
		s.logger.Error("Failed to apply mutation",
			zap.Error(err),
			zap.String("graph_id", m.GraphID),
			zap.Int("expected_version", m.ExpectedVersion),
			zap.Int("items", len(items)),
		)
		return pkgerrors.NewDatabaseError("apply mutation", err)
	}

	s.logger.Debug("Mutation applied",
		zap.String("graph_id", m.GraphID),
		zap.Int("expected_version", m.ExpectedVersion),
		zap.Int("items", len(items)),
	)
	return nil
}

func (s *GraphStore) transactItems(m aggregates.Mutation) ([]types.TransactWriteItem, error) {
	table := aws.String(s.tableName)
	pk := graphPK(m.GraphID)

	versionCond, err := expression.NewBuilder().
		WithCondition(expression.Name("Version").Equal(expression.Value(m.ExpectedVersion))).
		Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build version condition").WithCause(err)
	}
	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build exists condition").WithCause(err)
	}

	var items []types.TransactWriteItem

	if m.Info != nil {
		av, err := attributevalue.MarshalMap(newInfoItem(*m.Info))
		if err != nil {
			return nil, pkgerrors.NewInternalError("marshal graph info").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 table,
			Item:                      av,
			ConditionExpression:       versionCond.Condition(),
			ExpressionAttributeNames:  versionCond.Names(),
			ExpressionAttributeValues: versionCond.Values(),
		}})
	} else {
		update := expression.Set(expression.Name("Version"), expression.Value(m.ExpectedVersion+1)).
			Set(expression.Name("Info.version"), expression.Value(m.ExpectedVersion+1))
		expr, err := expression.NewBuilder().
			WithCondition(expression.Name("Version").Equal(expression.Value(m.ExpectedVersion))).
			WithUpdate(update).
			Build()
		if err != nil {
			return nil, pkgerrors.NewInternalError("build version update").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       key(pk, infoSK),
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}})
	}

	for _, id := range m.DeleteLinks {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       key(pk, linkSK(id)),
			ConditionExpression:       exists.Condition(),
			ExpressionAttributeNames:  exists.Names(),
			ExpressionAttributeValues: exists.Values(),
		}})
	}
	for _, id := range m.DeleteCards {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       key(pk, cardSK(id)),
			ConditionExpression:       exists.Condition(),
			ExpressionAttributeNames:  exists.Names(),
			ExpressionAttributeValues: exists.Values(),
		}})
	}
	for _, c := range m.PutCards {
		av, err := attributevalue.MarshalMap(cardItem{PK: pk, SK: cardSK(c.ID), EntityType: entityCard, Card: c})
		if err != nil {
			return nil, pkgerrors.NewInternalError("marshal card").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: table, Item: av}})
	}
	for _, l := range m.PutLinks {
		av, err := attributevalue.MarshalMap(linkItem{PK: pk, SK: linkSK(l.ID), EntityType: entityLink, Link: l})
		if err != nil {
			return nil, pkgerrors.NewInternalError("marshal link").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: table, Item: av}})
	}
	for _, r := range m.Audit {
		av, err := attributevalue.MarshalMap(newAuditItem(r))
		if err != nil {
			return nil, pkgerrors.NewInternalError("marshal audit record").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: table, Item: av}})
	}
	return items, nil
}

// AppendAudit stores records for existing graphs only.
func (s *GraphStore) AppendAudit(ctx context.Context, records ...entities.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("build exists condition").WithCause(err)
	}

	checked := make(map[string]bool)
	var items []types.TransactWriteItem
	for _, r := range records {
		if !checked[r.GraphID] {
			checked[r.GraphID] = true
			items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(s.tableName),
				Key:                       key(graphPK(r.GraphID), infoSK),
				ConditionExpression:       exists.Condition(),
				ExpressionAttributeNames:  exists.Names(),
				ExpressionAttributeValues: exists.Values(),
			}})
		}
		av, err := attributevalue.MarshalMap(newAuditItem(r))
		if err != nil {
			return pkgerrors.NewInternalError("marshal audit record").WithCause(err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.tableName), Item: av}})
	}
	if len(items) > MaxTransactItems {
		return pkgerrors.NewValidationError(fmt.Sprintf("at most %d audit records can be appended at once", MaxTransactItems-1))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isConditionFailure(err) {
			return pkgerrors.NewNotFoundError("graph " + records[0].GraphID)
		}
		return pkgerrors.NewDatabaseError("append audit", err)
	}
	return nil
}

func (s *GraphStore) ListAudit(ctx context.Context, graphID string, limit int) ([]entities.AuditRecord, error) {
	if err := s.requireGraph(ctx, graphID); err != nil {
		return nil, err
	}

	keyCond := expression.Key("PK").Equal(expression.Value(auditPK(graphID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build key condition").WithCause(err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var out []entities.AuditRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list audit", err)
		}
		for _, av := range page.Items {
			var item auditItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, pkgerrors.NewDatabaseError("unmarshal audit record", err)
			}
			out = append(out, item.Record)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *GraphStore) requireGraph(ctx context.Context, graphID string) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  key(graphPK(graphID), infoSK),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("load graph info", err)
	}
	if len(out.Item) == 0 {
		return pkgerrors.NewNotFoundError("graph " + graphID)
	}
	return nil
}

func stringAttr(av map[string]types.AttributeValue, name string) string {
	if v, ok := av[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// isConditionFailure reports whether err is a failed condition, either on a
// single write or inside a cancelled transaction.
func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
