package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vibin_matcher/utils"
)

// MaxTransactItems is the DynamoDB limit on actions per TransactWriteItems call
const MaxTransactItems = 100

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoService is the DynamoDB-backed DocumentStore. Every table uses a
// string partition key "PK" and a string sort key "SK".
type DynamoService struct {
	Client DynamoAPI
	Logger *zap.Logger

	// MaxTransactItems caps the size of one transaction; batches larger than
	// this are committed as several transactions, puts before deletes.
	MaxTransactItems int
}

// InitializeDynamoDBClient initializes the DynamoDB client
func InitializeDynamoDBClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// NewDynamoService returns a store backed by client
func NewDynamoService(client DynamoAPI, logger *zap.Logger) *DynamoService {
	return &DynamoService{Client: client, Logger: utils.OrNop(logger), MaxTransactItems: MaxTransactItems}
}

func dynamoKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key.PK},
		attrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

// GetItem retrieves an item from DynamoDB
func (ds *DynamoService) GetItem(ctx context.Context, key Key, out interface{}) (bool, error) {
	output, err := ds.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(key.Table),
		Key:            dynamoKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item from table '%s': %w", key.Table, err)
	}
	if output.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(output.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item from table '%s': %w", key.Table, err)
	}
	return true, nil
}

func (ds *DynamoService) PutItem(ctx context.Context, key Key, item interface{}) error {
	marshaledItem, err := marshalItem(key, item)
	if err != nil {
		return err
	}
	_, err = ds.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(key.Table),
		Item:      marshaledItem,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in table '%s': %w", key.Table, err)
	}
	ds.Logger.Debug("item put", zap.String("table", key.Table), zap.String("pk", key.PK), zap.String("sk", key.SK))
	return nil
}

// UpdateItem sets fields with a SET expression; DynamoDB creates the item if
// it does not exist.
func (ds *DynamoService) UpdateItem(ctx context.Context, key Key, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return errors.New("update failed: no fields to set")
	}
	updateExpression, names, values, err := buildSetExpression(fields)
	if err != nil {
		return err
	}
	_, err = ds.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(key.Table),
		Key:                       dynamoKey(key),
		UpdateExpression:          aws.String(updateExpression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("failed to update item in table '%s': %w", key.Table, err)
	}
	return nil
}

// buildSetExpression builds "SET #f0 = :v0, #f1 = :v1" over fields in name order
func buildSetExpression(fields map[string]interface{}) (string, map[string]string, map[string]types.AttributeValue, error) {
	fieldNames := make([]string, 0, len(fields))
	for name := range fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	expression := "SET"
	names := make(map[string]string, len(fields))
	values := make(map[string]types.AttributeValue, len(fields))
	for i, name := range fieldNames {
		av, err := attributevalue.Marshal(fields[name])
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to marshal field %q: %w", name, err)
		}
		placeholder := strconv.Itoa(i)
		if i > 0 {
			expression += ","
		}
		expression += " #f" + placeholder + " = :v" + placeholder
		names["#f"+placeholder] = name
		values[":v"+placeholder] = av
	}
	return expression, names, values, nil
}

// DeleteItem removes an item from DynamoDB
func (ds *DynamoService) DeleteItem(ctx context.Context, key Key) error {
	_, err := ds.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(key.Table),
		Key:       dynamoKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item from table '%s': %w", key.Table, err)
	}
	return nil
}

func (ds *DynamoService) partitionQuery(table, pk, skPrefix string) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}
	return input
}

// QueryItems pages through a partition
func (ds *DynamoService) QueryItems(ctx context.Context, table, pk, skPrefix string, out interface{}) error {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(ds.Client, ds.partitionQuery(table, pk, skPrefix))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to query table '%s': %w", table, err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal query result: %w", err)
	}
	return nil
}

func (ds *DynamoService) CountItems(ctx context.Context, table, pk, skPrefix string) (int, error) {
	input := ds.partitionQuery(table, pk, skPrefix)
	input.Select = types.SelectCount

	count := 0
	paginator := dynamodb.NewQueryPaginator(ds.Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count items in table '%s': %w", table, err)
		}
		count += int(page.Count)
	}
	return count, nil
}

func (ds *DynamoService) ScanItems(ctx context.Context, table, skPrefix string, out interface{}) error {
	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	if skPrefix != "" {
		input.FilterExpression = aws.String("begins_with(SK, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		}
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(ds.Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan table '%s': %w", table, err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal scan result: %w", err)
	}
	return nil
}

// CommitBatch writes the batch with TransactWriteItems. Batches that exceed
// MaxTransactItems are split, and the chunks are ordered puts first so readers
// only ever see the old set, a superset, or the final set.
func (ds *DynamoService) CommitBatch(ctx context.Context, batch *WriteBatch) error {
	var writes, deletes []types.TransactWriteItem
	for _, op := range batch.Ops() {
		switch op.Kind {
		case OpDelete:
			deletes = append(deletes, types.TransactWriteItem{
				Delete: &types.Delete{TableName: aws.String(op.Key.Table), Key: dynamoKey(op.Key)},
			})
		default:
			item, err := marshalItem(op.Key, op.Item)
			if err != nil {
				return err
			}
			put := &types.Put{TableName: aws.String(op.Key.Table), Item: item}
			if op.Kind == OpCreate {
				put.ConditionExpression = aws.String("attribute_not_exists(PK)")
			}
			writes = append(writes, types.TransactWriteItem{Put: put})
		}
	}

	limit := ds.MaxTransactItems
	if limit <= 0 || limit > MaxTransactItems {
		limit = MaxTransactItems
	}
	all := append(writes, deletes...)
	if len(all) > limit {
		transactions := (len(all) + limit - 1) / limit
		trace.SpanFromContext(ctx).AddEvent("batch split across transactions", trace.WithAttributes(
			attribute.Int("batch.items", len(all)),
			attribute.Int("batch.transactions", transactions),
		))
		ds.Logger.Warn("batch committed in several transactions", zap.Int("items", len(all)), zap.Int("transactions", transactions))
	}
	for start := 0; start < len(all); start += limit {
		end := start + limit
		if end > len(all) {
			end = len(all)
		}
		_, err := ds.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: all[start:end],
		})
		if err != nil {
			var canceled *types.TransactionCanceledException
			if errors.As(err, &canceled) && hasConditionFailure(canceled) {
				return fmt.Errorf("transaction canceled: %w", ErrConditionFailed)
			}
			return fmt.Errorf("failed to commit batch (%d-%d of %d): %w", start, end, len(all), err)
		}
	}
	return nil
}

func hasConditionFailure(err *types.TransactionCanceledException) bool {
	for _, reason := range err.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// AcquireLease claims the lease with a conditional update
func (ds *DynamoService) AcquireLease(ctx context.Context, key Key, token string, now time.Time, ttl time.Duration) (bool, error) {
	_, err := ds.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(key.Table),
		Key:                 dynamoKey(key),
		UpdateExpression:    aws.String("SET #token = :token, #expires = :expires"),
		ConditionExpression: aws.String("attribute_not_exists(#token) OR #token = :token OR #expires < :now"),
		ExpressionAttributeNames: map[string]string{
			"#token":   attrLeaseToken,
			"#expires": attrLeaseExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token":   &types.AttributeValueMemberS{Value: token},
			":expires": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).UnixMilli(), 10)},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease in table '%s': %w", key.Table, err)
	}
	return true, nil
}

// ReleaseLease removes the lease attributes if token still holds them
func (ds *DynamoService) ReleaseLease(ctx context.Context, key Key, token string) error {
	_, err := ds.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(key.Table),
		Key:                 dynamoKey(key),
		UpdateExpression:    aws.String("REMOVE #token, #expires"),
		ConditionExpression: aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]string{
			"#token":   attrLeaseToken,
			"#expires": attrLeaseExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return fmt.Errorf("failed to release lease in table '%s': %w", key.Table, err)
	}
	return nil
}
