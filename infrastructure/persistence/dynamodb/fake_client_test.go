package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is a single-table DynamoDB double. It understands the handful
// of condition shapes the adapters produce.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	failTransact error
	transacts    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(av map[string]types.AttributeValue) string {
	return stringAttr(av, "PK") + "|" + stringAttr(av, "SK")
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Item)
	if cond := aws.ToString(in.ConditionExpression); cond != "" {
		if existing, ok := f.items[k]; ok && strings.Contains(cond, "ExpiresAt < :now") {
			held, _ := strconv.ParseInt(existing["ExpiresAt"].(*types.AttributeValueMemberN).Value, 10, 64)
			now, _ := strconv.ParseInt(in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
			if held >= now {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("held")}
			}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Key)
	existing, ok := f.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	if want, ok := in.ExpressionAttributeValues[":lockId"]; ok {
		if stringAttr(existing, "LockID") != want.(*types.AttributeValueMemberS).Value {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("not ours")}
		}
	}
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var want string
	for _, v := range in.ExpressionAttributeValues {
		want = v.(*types.AttributeValueMemberS).Value
	}
	byIndex := in.IndexName != nil

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if byIndex {
			if stringAttr(item, "EntityType") == entityGraph && stringAttr(item, "Owner") == want {
				out = append(out, item)
			}
		} else if stringAttr(item, "PK") == want {
			out = append(out, item)
		}
	}

	sortKey := "SK"
	if byIndex {
		sortKey = "CreatedAt"
	}
	sort.Slice(out, func(i, j int) bool { return stringAttr(out[i], sortKey) < stringAttr(out[j], sortKey) })
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts++
	if f.failTransact != nil {
		return nil, f.failTransact
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var (
			k      string
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			k, cond, names, values = itemKey(ti.Put.Item), ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Delete != nil:
			k, cond, names, values = itemKey(ti.Delete.Key), ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.Update != nil:
			k, cond, names, values = itemKey(ti.Update.Key), ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			k, cond, names, values = itemKey(ti.ConditionCheck.Key), ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		}
		if cond != nil && !f.holds(k, *cond, names, values) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		} else {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items, itemKey(ti.Delete.Key))
		case ti.Update != nil:
			item := f.items[itemKey(ti.Update.Key)]
			v, _ := strconv.Atoi(item["Version"].(*types.AttributeValueMemberN).Value)
			next := &types.AttributeValueMemberN{Value: strconv.Itoa(v + 1)}
			item["Version"] = next
			if info, ok := item["Info"].(*types.AttributeValueMemberM); ok {
				info.Value["version"] = next
			}
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// holds evaluates "attribute_exists", "attribute_not_exists" and "#n = :v".
func (f *fakeClient) holds(k, cond string, names map[string]string, values map[string]types.AttributeValue) bool {
	item, exists := f.items[k]
	switch {
	case strings.Contains(cond, "attribute_not_exists"):
		return !exists
	case strings.Contains(cond, "attribute_exists"):
		return exists
	}

	parts := strings.SplitN(strings.Trim(cond, "() "), " = ", 2)
	if len(parts) != 2 || !exists {
		return false
	}
	name := names[strings.TrimSpace(parts[0])]
	want := values[strings.Trim(parts[1], "() ")]
	return scalar(item[name]) == scalar(want)
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	}
	return fmt.Sprintf("%T", av)
}
