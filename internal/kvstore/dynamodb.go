package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is the table layout: partition key PK, opaque payload V and
// counter N. A row holds either V or N.
type dynamoItem struct {
	PK string `dynamodbav:"PK"`
	V  []byte `dynamodbav:"V,omitempty"`
	N  *int64 `dynamodbav:"N,omitempty"`
}

// Dynamo is a Store backed by a single DynamoDB table keyed by "PK".
type Dynamo struct {
	client DynamoAPI
	table  string
	logger *zap.Logger
}

// OpenDynamo loads the default AWS configuration and returns a store on table.
// A non-empty endpoint points the client at a local emulator.
func OpenDynamo(ctx context.Context, table, region, endpoint string, logger *zap.Logger) (*Dynamo, error) {
	if table == "" {
		return nil, errors.New("kvstore: dynamodb table is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	logger.Info("kv store configured", zap.String("backend", BackendDynamoDB), zap.String("table", table))
	return NewDynamo(client, table, logger), nil
}

// NewDynamo wraps an existing client.
func NewDynamo(client DynamoAPI, table string, logger *zap.Logger) *Dynamo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dynamo{client: client, table: table, logger: logger}
}

func (d *Dynamo) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: k},
	}
}

func (d *Dynamo) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %q: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamodb decode %q: %w", key, err)
	}
	if item.N != nil {
		return []byte(strconv.FormatInt(*item.N, 10)), nil
	}
	return item.V, nil
}

func (d *Dynamo) Set(ctx context.Context, key string, value []byte) error {
	av, err := attributevalue.MarshalMap(dynamoItem{PK: key, V: value})
	if err != nil {
		return fmt.Errorf("dynamodb encode %q: %w", key, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %q: %w", key, err)
	}
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete %q: %w", key, err)
	}
	return nil
}

// Keys scans the table with a begins_with filter. Intended for small
// ledger/cache tables; it reads every page.
func (d *Dynamo) Keys(ctx context.Context, prefix string) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(d.table),
		ProjectionExpression:      aws.String("PK"),
		FilterExpression:          aws.String("begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":prefix": &types.AttributeValueMemberS{Value: prefix}},
	}
	if prefix == "" {
		input.FilterExpression = nil
		input.ExpressionAttributeValues = nil
	}

	var keys []string
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %q: %w", prefix, err)
		}
		for _, item := range page.Items {
			var row dynamoItem
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				d.logger.Warn("skipping undecodable row", zap.Error(err))
				continue
			}
			keys = append(keys, row.PK)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr uses an ADD update expression, which DynamoDB applies atomically and
// which creates the attribute at zero when absent.
func (d *Dynamo) Incr(ctx context.Context, key string) (int64, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.table),
		Key:              d.key(key),
		UpdateExpression: aws.String("ADD #n :one"),
		ExpressionAttributeNames: map[string]string{
			"#n": "N",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb incr %q: %w", key, err)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("dynamodb decode counter %q: %w", key, err)
	}
	if item.N == nil {
		return 0, fmt.Errorf("dynamodb incr %q: no counter returned", key)
	}
	return *item.N, nil
}

func (d *Dynamo) Close() error { return nil }
