package dynamodb

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is an in-memory DynamoDB table that understands the
// expressions Store issues.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// pageSize limits Scan pages to exercise pagination.
	pageSize int
	// unprocessOnce makes the first batch call return half its work unprocessed.
	unprocessOnce bool
	// failScan makes every Scan fail.
	failScan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:    make(map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func (f *fakeClient) key(k map[string]types.AttributeValue) string {
	return k[attrKey].(*types.AttributeValueMemberS).Value
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if ss, ok := v.(*types.AttributeValueMemberSS); ok {
			out[k] = &types.AttributeValueMemberSS{Value: slices.Clone(ss.Value)}
			continue
		}
		out[k] = v
	}
	return out
}

func (f *fakeClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: cloneItem(f.items[f.key(params.Key)])}, nil
}

func (f *fakeClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(params.Item)
	old := f.items[k]
	f.items[k] = cloneItem(params.Item)
	return &dynamodb.PutItemOutput{Attributes: cloneItem(old)}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := f.key(params.Key)
	item, exists := f.items[k]
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_exists(#k)" && !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	if !exists {
		item = map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: k}}
		f.items[k] = item
	}

	arg := params.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberSS).Value
	var cur []string
	if ss, ok := item[attrMembers].(*types.AttributeValueMemberSS); ok {
		cur = ss.Value
	}

	switch {
	case strings.HasPrefix(*params.UpdateExpression, "ADD"):
		for _, m := range arg {
			if !slices.Contains(cur, m) {
				cur = append(cur, m)
			}
		}
	case strings.HasPrefix(*params.UpdateExpression, "DELETE"):
		cur = slices.DeleteFunc(cur, func(m string) bool { return slices.Contains(arg, m) })
	default:
		return nil, errors.New("fake: unsupported update expression")
	}

	if len(cur) == 0 {
		delete(item, attrMembers)
	} else {
		item[attrMembers] = &types.AttributeValueMemberSS{Value: cur}
	}

	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = cloneItem(item)
	}
	return out, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := f.key(params.Key)
	item, ok := f.items[k]
	if !ok {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	if params.ConditionExpression != nil {
		for _, attr := range []string{attrMembers, attrValue, attrBlob} {
			if _, has := item[attr]; has {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
			}
		}
	}
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range params.RequestItems {
		keys := ka.Keys
		if f.unprocessOnce && len(keys) > 1 {
			f.unprocessOnce = false
			half := len(keys) / 2
			rest := ka
			rest.Keys = keys[half:]
			out.UnprocessedKeys = map[string]types.KeysAndAttributes{table: rest}
			keys = keys[:half]
		}
		for _, k := range keys {
			if item, ok := f.items[f.key(k)]; ok {
				out.Responses[table] = append(out.Responses[table], cloneItem(item))
			}
		}
	}
	return out, nil
}

func (f *fakeClient) BatchWriteItem(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range params.RequestItems {
		if len(reqs) > maxBatchWrite {
			return nil, errors.New("fake: too many write requests")
		}
		if f.unprocessOnce && len(reqs) > 1 {
			f.unprocessOnce = false
			half := len(reqs) / 2
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs[half:]}
			reqs = reqs[:half]
		}
		for _, r := range reqs {
			if r.DeleteRequest != nil {
				delete(f.items, f.key(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func (f *fakeClient) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failScan != nil {
		return nil, f.failScan
	}

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last := f.key(params.ExclusiveStartKey)
		start = sort.SearchStrings(keys, last) + 1
	}

	var prefix string
	if p, ok := params.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS); ok {
		prefix = p.Value
	}

	out := &dynamodb.ScanOutput{}
	end := min(start+f.pageSize, len(keys))
	for _, k := range keys[start:end] {
		if strings.HasPrefix(k, prefix) {
			out.Items = append(out.Items, map[string]types.AttributeValue{
				attrKey: &types.AttributeValueMemberS{Value: k},
			})
		}
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}
