package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

// dynamoAPI is the subset of the DynamoDB client the allocator uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// counterItem is one counter row: partition key "name", number "counter".
type counterItem struct {
	Name    string `dynamodbav:"name"`
	Counter int64  `dynamodbav:"counter"`
}

// DynamoDBAllocator allocates counters with an atomic ADD update on one item
// per table.
type DynamoDBAllocator struct {
	client    dynamoAPI
	tableName string
	prefix    string
	seed      Seeder
	seeded    seeded
	closed    atomic.Bool
	logger    *zap.SugaredLogger
}

// NewDynamoDBAllocator creates a DynamoDB-backed allocator and checks that
// the counter table exists.
func NewDynamoDBAllocator(cfg Config) (*DynamoDBAllocator, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	clientOptions := []func(*dynamodb.Options){}
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", cfg.TableName, err)
	}

	return newDynamoDBAllocator(client, cfg), nil
}

func newDynamoDBAllocator(client dynamoAPI, cfg Config) *DynamoDBAllocator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &DynamoDBAllocator{
		client:    client,
		tableName: cfg.TableName,
		prefix:    prefix,
		seed:      cfg.Seed,
		logger:    logger.Named("sequence.dynamodb"),
	}
}

// Next returns the next counter value for the table.
func (d *DynamoDBAllocator) Next(ctx context.Context, table string) (int64, error) {
	if d.closed.Load() {
		return 0, ErrAllocatorClosed
	}

	name := d.prefix + table
	if err := d.seeded.once(ctx, table, func(ctx context.Context) error {
		return d.seedItem(ctx, name, table)
	}); err != nil {
		return 0, err
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:          aws.String("ADD #c :one"),
		ExpressionAttributeNames:  map[string]string{"#c": "counter"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		d.logger.Errorw("failed to increment counter", "name", name, "error", err)
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}

	var item counterItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("failed to decode counter %s: %w", name, err)
	}
	return item.Counter, nil
}

func (d *DynamoDBAllocator) seedItem(ctx context.Context, name, table string) error {
	v, err := seedValue(ctx, d.seed, table)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(counterItem{Name: name, Counter: v})
	if err != nil {
		return fmt.Errorf("failed to encode counter %s: %w", name, err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#n)"),
		ExpressionAttributeNames: map[string]string{"#n": "name"},
	})
	var exists *types.ConditionalCheckFailedException
	if errors.As(err, &exists) {
		d.logger.Debugw("counter already present", "name", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to seed counter %s: %w", name, err)
	}
	d.logger.Debugw("seeded counter", "name", name, "value", v)
	return nil
}

// Close marks the allocator closed. The DynamoDB client holds no connection
// that needs closing.
func (d *DynamoDBAllocator) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBAllocatorFactory implements AllocatorFactory for DynamoDB.
type DynamoDBAllocatorFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBAllocatorFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBAllocatorFactory) Validate(config Config) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB allocator.
func (f *DynamoDBAllocatorFactory) Create(config Config) (core.SequenceAllocator, error) {
	alloc, err := NewDynamoDBAllocator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB allocator: %w", err)
	}
	return alloc, nil
}

// DynamoDBConfigValidator implements registry.ConfigValidator for DynamoDB.
type DynamoDBConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *DynamoDBConfigValidator) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration in the internal config.
func (v *DynamoDBConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	seqConfig := config.Sequence
	if seqConfig.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB validator: %s", seqConfig.Type)
	}
	if seqConfig.DynamoDBConfig.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if seqConfig.DynamoDBConfig.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	if seqConfig.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", seqConfig.MaxRetries)
	}
	return nil
}

func init() {
	RegisterFactory(&DynamoDBAllocatorFactory{})
	registry.RegisterValidator(&DynamoDBConfigValidator{})
}
