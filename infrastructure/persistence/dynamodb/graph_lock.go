package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	pkgerrors "lessonmap-backend/pkg/errors"
)

// GraphLock serialises committers of one graph across processes using a
// conditional put on a LOCK item. An abandoned lock becomes free once its
// lease expires.
type GraphLock struct {
	client    DynamoDBAPI
	tableName string
	owner     string
	lease     time.Duration
	logger    *zap.Logger

	retryInterval time.Duration
	now           func() time.Time
}

// NewGraphLock creates a lock manager. owner identifies this process in lock
// records.
func NewGraphLock(client DynamoDBAPI, tableName, owner string, lease time.Duration, logger *zap.Logger) *GraphLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if owner == "" {
		owner = uuid.New().String()
	}
	return &GraphLock{
		client:        client,
		tableName:     tableName,
		owner:         owner,
		lease:         lease,
		logger:        logger.Named("graph_lock"),
		retryInterval: 100 * time.Millisecond,
		now:           time.Now,
	}
}

func lockKey(graphID string) map[string]types.AttributeValue {
	return key("LOCK#"+graphID, "LOCK")
}

// Lock retries with backoff until the graph lock is acquired or ctx ends.
func (l *GraphLock) Lock(ctx context.Context, graphID string) (func(), error) {
	interval := l.retryInterval
	for {
		lockID, err := l.tryAcquire(ctx, graphID)
		if err == nil {
			return func() { l.release(graphID, lockID) }, nil
		}
		if !errors.Is(err, errLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("graph %s is busy, try again", graphID)).WithCause(ctx.Err())
		case <-time.After(interval):
			if interval < time.Second {
				interval = time.Duration(float64(interval) * 1.5)
			}
		}
	}
}

var errLockHeld = errors.New("lock held")

func (l *GraphLock) tryAcquire(ctx context.Context, graphID string) (string, error) {
	now := l.now()
	expiresAt := now.Add(l.lease)
	lockID := fmt.Sprintf("%s_%d", l.owner, now.UnixNano())

	item := lockKey(graphID)
	item["LockID"] = &types.AttributeValueMemberS{Value: lockID}
	item["Owner"] = &types.AttributeValueMemberS{Value: l.owner}
	item["AcquiredAt"] = &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)}
	item["ExpiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixMilli(), 10)}
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			l.logger.Debug("Graph lock held elsewhere", zap.String("graph_id", graphID))
			return "", errLockHeld
		}
		return "", pkgerrors.NewDatabaseError("acquire graph lock", err)
	}

	l.logger.Debug("Graph lock acquired", zap.String("graph_id", graphID), zap.String("lock_id", lockID))
	return lockID, nil
}

// release runs on a fresh context so a cancelled request still frees the lock.
func (l *GraphLock) release(graphID, lockID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 lockKey(graphID),
		ConditionExpression: aws.String("LockID = :lockId AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: lockID},
			":owner":  &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			l.logger.Warn("Graph lock expired before release", zap.String("graph_id", graphID), zap.String("lock_id", lockID))
			return
		}
		l.logger.Error("Failed to release graph lock", zap.Error(err), zap.String("graph_id", graphID))
		return
	}
	l.logger.Debug("Graph lock released", zap.String("graph_id", graphID), zap.String("lock_id", lockID))
}
