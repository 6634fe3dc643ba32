package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"go.uber.org/zap"

	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// StreamsAPI is the part of the DynamoDB Streams client the feed uses
type StreamsAPI interface {
	DescribeStream(ctx context.Context, params *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, params *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// InitializeStreamsClient builds a DynamoDB Streams client for region
func InitializeStreamsClient(ctx context.Context, region string) (*dynamodbstreams.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodbstreams.NewFromConfig(cfg), nil
}

// StreamFeed polls one table's DynamoDB stream and passes every record to
// Sink as a Change. Shards open when the feed starts are read from their
// latest position; shards discovered later are read from the beginning.
type StreamFeed struct {
	Client       StreamsAPI
	StreamARN    string
	Table        string
	Sink         func(services.Change)
	PollInterval time.Duration
	Logger       *zap.Logger

	iterators map[string]*string
	seen      map[string]bool
}

func NewStreamFeed(client StreamsAPI, streamARN, table string, sink func(services.Change), logger *zap.Logger) *StreamFeed {
	return &StreamFeed{
		Client:       client,
		StreamARN:    streamARN,
		Table:        table,
		Sink:         sink,
		PollInterval: time.Second,
		Logger:       utils.OrNop(logger).With(zap.String("table", table)),
		iterators:    make(map[string]*string),
		seen:         make(map[string]bool),
	}
}

// Run polls until ctx is cancelled
func (f *StreamFeed) Run(ctx context.Context) error {
	if err := f.discoverShards(ctx, true); err != nil {
		return err
	}
	f.Logger.Info("stream feed started", zap.Int("shards", len(f.iterators)))

	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.Logger.Warn("stream poll failed", zap.Error(err))
		}
	}
}

// Poll picks up new shards and reads one page of records from each open shard
func (f *StreamFeed) Poll(ctx context.Context) error {
	if err := f.discoverShards(ctx, false); err != nil {
		return err
	}
	for shardID, iterator := range f.iterators {
		out, err := f.Client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iterator})
		var expired *streamtypes.ExpiredIteratorException
		if errors.As(err, &expired) {
			f.Logger.Debug("shard iterator expired", zap.String("shard", shardID))
			if err := f.openShard(ctx, shardID, streamtypes.ShardIteratorTypeLatest); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read shard %s: %w", shardID, err)
		}
		for _, record := range out.Records {
			change, ok, err := f.toChange(record)
			if err != nil {
				f.Logger.Warn("skipping undecodable record", zap.String("shard", shardID), zap.Error(err))
				continue
			}
			if ok {
				f.Sink(change)
			}
		}
		if out.NextShardIterator == nil {
			f.Logger.Debug("shard closed", zap.String("shard", shardID))
			delete(f.iterators, shardID)
			continue
		}
		f.iterators[shardID] = out.NextShardIterator
	}
	return nil
}

func (f *StreamFeed) discoverShards(ctx context.Context, initial bool) error {
	var startAfter *string
	for {
		out, err := f.Client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(f.StreamARN),
			ExclusiveStartShardId: startAfter,
		})
		if err != nil {
			return fmt.Errorf("failed to describe stream %s: %w", f.StreamARN, err)
		}
		if out.StreamDescription == nil {
			return nil
		}
		for _, shard := range out.StreamDescription.Shards {
			shardID := aws.ToString(shard.ShardId)
			if f.seen[shardID] {
				continue
			}
			f.seen[shardID] = true
			closed := shard.SequenceNumberRange != nil && shard.SequenceNumberRange.EndingSequenceNumber != nil
			if initial {
				if closed {
					continue
				}
				err = f.openShard(ctx, shardID, streamtypes.ShardIteratorTypeLatest)
			} else {
				err = f.openShard(ctx, shardID, streamtypes.ShardIteratorTypeTrimHorizon)
			}
			if err != nil {
				return err
			}
		}
		startAfter = out.StreamDescription.LastEvaluatedShardId
		if startAfter == nil {
			return nil
		}
	}
}

func (f *StreamFeed) openShard(ctx context.Context, shardID string, position streamtypes.ShardIteratorType) error {
	out, err := f.Client.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(f.StreamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: position,
	})
	if err != nil {
		return fmt.Errorf("failed to open shard %s: %w", shardID, err)
	}
	if out.ShardIterator == nil {
		delete(f.iterators, shardID)
		return nil
	}
	f.iterators[shardID] = out.ShardIterator
	return nil
}

func (f *StreamFeed) toChange(record streamtypes.Record) (services.Change, bool, error) {
	if record.Dynamodb == nil {
		return services.Change{}, false, nil
	}
	keys, err := attributevalue.FromDynamoDBStreamsMap(record.Dynamodb.Keys)
	if err != nil {
		return services.Change{}, false, err
	}
	key, ok := services.KeyOf(f.Table, keys)
	if !ok {
		return services.Change{}, false, nil
	}
	change := services.Change{Key: key}
	if record.Dynamodb.OldImage != nil {
		if change.Old, err = attributevalue.FromDynamoDBStreamsMap(record.Dynamodb.OldImage); err != nil {
			return services.Change{}, false, err
		}
	}
	if record.Dynamodb.NewImage != nil {
		if change.New, err = attributevalue.FromDynamoDBStreamsMap(record.Dynamodb.NewImage); err != nil {
			return services.Change{}, false, err
		}
	}
	if record.EventName == streamtypes.OperationTypeRemove {
		change.New = nil
	}
	return change, true, nil
}
