package kvstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDynamo is an in-memory stand-in for the handful of DynamoDB calls the
// store makes. It honours the ADD counter semantics and paginates scans.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	scans    int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func pkOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, pkOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := pkOf(in.Key)
	item, ok := f.items[pk]
	if !ok {
		item = map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}}
		f.items[pk] = item
	}
	var cur int64
	if n, ok := item["N"].(*types.AttributeValueMemberN); ok {
		cur, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	delta, _ := strconv.ParseInt(in.ExpressionAttributeValues[":one"].(*types.AttributeValueMemberN).Value, 10, 64)
	next := &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+delta, 10)}
	item["N"] = next
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"N": next}}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	prefix := ""
	if v, ok := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS); ok {
		prefix = v.Value
	}
	start := ""
	if in.ExclusiveStartKey != nil {
		start = pkOf(in.ExclusiveStartKey)
	}

	var all []string
	for pk := range f.items {
		if pk > start {
			all = append(all, pk)
		}
	}
	sort.Strings(all)

	out := &dynamodb.ScanOutput{}
	var scanned int
	for _, pk := range all {
		if scanned == f.pageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}}
			break
		}
		scanned++
		if strings.HasPrefix(pk, prefix) {
			out.Items = append(out.Items, map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}})
		}
	}
	// LastEvaluatedKey marks the last item read, not the next one.
	if out.LastEvaluatedKey != nil && scanned > 0 {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: all[scanned-1]}}
	}
	return out, nil
}

func TestDynamoStore(t *testing.T) {
	runStoreSuite(t, NewDynamo(newFakeDynamo(), "arvscout", zap.NewNop()))
}

func TestDynamoKeysPaginates(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamo(fake, "arvscout", nil)
	ctx := context.Background()

	for _, k := range []string{"comps_1", "comps_2", "comps_3", "rates_1", "estimates_1"} {
		require.NoError(t, s.Set(ctx, k, []byte("x")))
	}

	keys, err := s.Keys(ctx, "comps_")
	require.NoError(t, err)
	assert.Equal(t, []string{"comps_1", "comps_2", "comps_3"}, keys)
	assert.Greater(t, fake.scans, 1, "expected more than one scan page")

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDynamoSetClearsCounter(t *testing.T) {
	s := NewDynamo(newFakeDynamo(), "arvscout", nil)
	ctx := context.Background()

	_, err := s.Incr(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("payload")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}
