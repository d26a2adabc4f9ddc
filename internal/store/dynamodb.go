package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the part of *dynamodb.Client used by DynamoKV.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// NewDynamoClient builds a client from the default AWS credential chain.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

type dynamoItem struct {
	Key       string `dynamodbav:"key"`
	Value     string `dynamodbav:"value"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
}

// DynamoKV stores values in a table whose partition key is the string attribute "key".
type DynamoKV struct {
	client    DynamoAPI
	tableName string
}

func NewDynamoKV(client DynamoAPI, tableName string) *DynamoKV {
	return &DynamoKV{client: client, tableName: tableName}
}

func (d *DynamoKV) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"key": &dynamodbtypes.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamodb get item: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("unmarshal item: %w", err)
	}
	return item.Value, true, nil
}

func (d *DynamoKV) Set(ctx context.Context, key, value string) error {
	av, err := attributevalue.MarshalMap(dynamoItem{Key: key, Value: value, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}
