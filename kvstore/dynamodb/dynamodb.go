// Package dynamodb provides a kvstore.Store backed by Amazon DynamoDB.
//
// Each key is one item. Sets live in a string-set attribute updated with
// ADD and DELETE expressions, which DynamoDB applies atomically per item.
// Values live in a binary attribute; values above the inline limit are
// written to a blobstore.Store and the item keeps only a reference.
//
// Table schema:
//   - Partition key: pk (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name lsh-index \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/lshkv/blobstore"
	"github.com/hupe1980/lshkv/kvstore"
)

const (
	attrKey     = "pk"
	attrMembers = "m"
	attrValue   = "v"
	attrBlob    = "b"

	// DynamoDB API limits.
	maxBatchGet   = 100
	maxBatchWrite = 25

	// DefaultInlineLimit keeps items well under the 400KB item cap.
	DefaultInlineLimit = 350 * 1024

	maxUnprocessedRetries = 8
)

// ErrValueTooLarge is returned by Put when a value exceeds the inline
// limit and no blob store is configured.
var ErrValueTooLarge = errors.New("dynamodb: value exceeds inline limit and no blob store is configured")

// Client is the interface for DynamoDB operations.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Options configures a Store.
type Options struct {
	// Blobs receives values larger than InlineLimit. Optional.
	Blobs blobstore.Store

	// BlobPrefix is prepended to blob names. Default: "kv/".
	BlobPrefix string

	// InlineLimit is the largest value stored inside the item.
	// Default: DefaultInlineLimit.
	InlineLimit int

	// ConsistentReads enables strongly consistent reads. Default: true.
	ConsistentReads *bool
}

// Store implements kvstore.Store on a DynamoDB table.
type Store struct {
	client     Client
	table      string
	blobs      blobstore.Store
	blobPrefix string
	inline     int
	consistent bool
}

var (
	_ kvstore.Store       = (*Store)(nil)
	_ kvstore.MultiReader = (*Store)(nil)
)

// NewFromConfig creates a Store using the default AWS credential chain.
func NewFromConfig(ctx context.Context, table string, opts Options, loadOpts ...func(*config.LoadOptions) error) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table, opts), nil
}

// New creates a Store on the given table.
func New(client Client, table string, opts Options) *Store {
	s := &Store{
		client:     client,
		table:      table,
		blobs:      opts.Blobs,
		blobPrefix: opts.BlobPrefix,
		inline:     opts.InlineLimit,
		consistent: true,
	}
	if s.blobPrefix == "" {
		s.blobPrefix = "kv/"
	}
	if s.inline <= 0 {
		s.inline = DefaultInlineLimit
	}
	if opts.ConsistentReads != nil {
		s.consistent = *opts.ConsistentReads
	}
	return s
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              itemKey(key),
		UpdateExpression: aws.String("ADD #m :s"),
		ExpressionAttributeNames: map[string]string{
			"#m": attrMembers,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberSS{Value: dedupe(members)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb: sadd %q: %w", key, err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 itemKey(key),
		UpdateExpression:    aws.String("DELETE #m :s"),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#m": attrMembers,
			"#k": attrKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberSS{Value: dedupe(members)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil // missing key
		}
		return fmt.Errorf("dynamodb: srem %q: %w", key, err)
	}

	if _, ok := out.Attributes[attrMembers]; ok {
		return nil
	}

	// The set emptied. Drop the bare item unless a concurrent SAdd or Put
	// refilled it.
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 itemKey(key),
		ConditionExpression: aws.String("attribute_not_exists(#m) AND attribute_not_exists(#v) AND attribute_not_exists(#b)"),
		ExpressionAttributeNames: map[string]string{
			"#m": attrMembers,
			"#v": attrValue,
			"#b": attrBlob,
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("dynamodb: srem cleanup %q: %w", key, err)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  itemKey(key),
		ConsistentRead:       aws.Bool(s.consistent),
		ProjectionExpression: aws.String("#m"),
		ExpressionAttributeNames: map[string]string{
			"#m": attrMembers,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: smembers %q: %w", key, err)
	}
	return members(out.Item), nil
}

// SMembersMulti implements kvstore.MultiReader with BatchGetItem.
func (s *Store) SMembersMulti(ctx context.Context, keys []string) (map[string][]string, error) {
	result := make(map[string][]string, len(keys))
	err := s.batchGet(ctx, dedupe(keys), "#k, #m", map[string]string{"#k": attrKey, "#m": attrMembers},
		func(item map[string]types.AttributeValue) {
			if m := members(item); len(m) > 0 {
				result[stringAttr(item, attrKey)] = m
			}
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(s.consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get %q: %w", key, err)
	}
	if v, ok := out.Item[attrValue].(*types.AttributeValueMemberB); ok {
		return v.Value, nil
	}
	if ref := stringAttr(out.Item, attrBlob); ref != "" {
		if s.blobs == nil {
			return nil, fmt.Errorf("dynamodb: get %q: value stored in blob %q but no blob store is configured", key, ref)
		}
		data, err := s.blobs.Get(ctx, ref)
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, kvstore.ErrNotFound
		}
		return data, err
	}
	return nil, kvstore.ErrNotFound
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	item := itemKey(key)

	if len(value) > s.inline {
		if s.blobs == nil {
			return ErrValueTooLarge
		}
		ref := s.blobPrefix + key
		if err := s.blobs.Put(ctx, ref, value); err != nil {
			return fmt.Errorf("dynamodb: put %q: blob: %w", key, err)
		}
		item[attrBlob] = &types.AttributeValueMemberS{Value: ref}
	} else {
		item[attrValue] = &types.AttributeValueMemberB{Value: value}
	}

	out, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(s.table),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: put %q: %w", key, err)
	}

	// An inline value replaced an offloaded one. The item is already
	// written, so a failure here only leaves an orphaned blob.
	if _, inline := item[attrValue]; inline && s.blobs != nil {
		if old := stringAttr(out.Attributes, attrBlob); old != "" {
			if err := s.blobs.Delete(ctx, old); err != nil {
				return fmt.Errorf("dynamodb: put cleanup %q: blob %q: %w", key, old, err)
			}
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return nil
	}

	// Find offloaded values first so their blobs can be removed.
	var refs []string
	if s.blobs != nil {
		err := s.batchGet(ctx, keys, "#b", map[string]string{"#b": attrBlob},
			func(item map[string]types.AttributeValue) {
				if ref := stringAttr(item, attrBlob); ref != "" {
					refs = append(refs, ref)
				}
			})
		if err != nil {
			return err
		}
	}

	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(k)},
			})
		}
		if err := s.batchWrite(ctx, reqs); err != nil {
			return err
		}
	}

	for _, ref := range refs {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			return fmt.Errorf("dynamodb: delete blob %q: %w", ref, err)
		}
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("#k"),
			ExpressionAttributeNames: map[string]string{
				"#k": attrKey,
			},
			ConsistentRead: aws.Bool(s.consistent),
		}
		if prefix != "" {
			input.FilterExpression = aws.String("begins_with(#k, :p)")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			}
		}

		paginator := dynamodb.NewScanPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("dynamodb: scan: %w", err))
				return
			}
			for _, item := range page.Items {
				if !yield(stringAttr(item, attrKey), nil) {
					return
				}
			}
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error { return nil }

func (s *Store) batchGet(ctx context.Context, keys []string, projection string, names map[string]string, fn func(map[string]types.AttributeValue)) error {
	for start := 0; start < len(keys); start += maxBatchGet {
		end := min(start+maxBatchGet, len(keys))
		ks := make([]map[string]types.AttributeValue, 0, end-start)
		for _, k := range keys[start:end] {
			ks = append(ks, itemKey(k))
		}
		request := map[string]types.KeysAndAttributes{
			s.table: {
				Keys:                     ks,
				ConsistentRead:           aws.Bool(s.consistent),
				ProjectionExpression:     aws.String(projection),
				ExpressionAttributeNames: names,
			},
		}

		for attempt := 0; len(request) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return errors.New("dynamodb: batch get: unprocessed keys remain after retries")
			}
			if err := pause(ctx, attempt); err != nil {
				return err
			}
			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return fmt.Errorf("dynamodb: batch get: %w", err)
			}
			for _, item := range out.Responses[s.table] {
				fn(item)
			}
			request = out.UnprocessedKeys
		}
	}
	return nil
}

func (s *Store) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	request := map[string][]types.WriteRequest{s.table: reqs}
	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > maxUnprocessedRetries {
			return errors.New("dynamodb: batch write: unprocessed items remain after retries")
		}
		if err := pause(ctx, attempt); err != nil {
			return err
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("dynamodb: batch write: %w", err)
		}
		request = out.UnprocessedItems
	}
	return nil
}

// pause backs off before retrying unprocessed batch entries.
func pause(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(1<<min(attempt, 6)) * 10 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func members(item map[string]types.AttributeValue) []string {
	if ss, ok := item[attrMembers].(*types.AttributeValueMemberSS); ok {
		return ss.Value
	}
	return []string{}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// dedupe removes duplicates; DynamoDB rejects string sets and batch
// requests with repeated entries.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
