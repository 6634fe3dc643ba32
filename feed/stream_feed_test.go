package feed

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_matcher/models"
	"vibin_matcher/services"
)

// fakeStream serves fixed shards; each iterator string maps to one page of records
type fakeStream struct {
	shards    []streamtypes.Shard
	positions map[string]streamtypes.ShardIteratorType
	pages     map[string]*dynamodbstreams.GetRecordsOutput
}

func (f *fakeStream) DescribeStream(ctx context.Context, params *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error) {
	return &dynamodbstreams.DescribeStreamOutput{
		StreamDescription: &streamtypes.StreamDescription{Shards: f.shards},
	}, nil
}

func (f *fakeStream) GetShardIterator(ctx context.Context, params *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error) {
	shardID := aws.ToString(params.ShardId)
	f.positions[shardID] = params.ShardIteratorType
	return &dynamodbstreams.GetShardIteratorOutput{ShardIterator: aws.String(shardID + "-0")}, nil
}

func (f *fakeStream) GetRecords(ctx context.Context, params *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error) {
	if page, ok := f.pages[aws.ToString(params.ShardIterator)]; ok {
		return page, nil
	}
	return &dynamodbstreams.GetRecordsOutput{NextShardIterator: params.ShardIterator}, nil
}

func openShard(id string) streamtypes.Shard {
	return streamtypes.Shard{
		ShardId:             aws.String(id),
		SequenceNumberRange: &streamtypes.SequenceNumberRange{StartingSequenceNumber: aws.String("1")},
	}
}

func keysOf(pk, sk string) map[string]streamtypes.AttributeValue {
	return map[string]streamtypes.AttributeValue{
		"PK": &streamtypes.AttributeValueMemberS{Value: pk},
		"SK": &streamtypes.AttributeValueMemberS{Value: sk},
	}
}

func TestStreamFeed_ConvertsRecords(t *testing.T) {
	ctx := context.Background()
	profileImage := keysOf("USER#x", models.ProfileSortKey)
	profileImage["id"] = &streamtypes.AttributeValueMemberS{Value: "x"}
	profileImage["firstName"] = &streamtypes.AttributeValueMemberS{Value: "Xena"}

	stream := &fakeStream{
		shards:    []streamtypes.Shard{openShard("s1")},
		positions: map[string]streamtypes.ShardIteratorType{},
		pages: map[string]*dynamodbstreams.GetRecordsOutput{
			"s1-0": {
				Records: []streamtypes.Record{
					{
						EventName: streamtypes.OperationTypeInsert,
						Dynamodb:  &streamtypes.StreamRecord{Keys: keysOf("USER#x", models.ProfileSortKey), NewImage: profileImage},
					},
					{
						EventName: streamtypes.OperationTypeRemove,
						Dynamodb:  &streamtypes.StreamRecord{Keys: keysOf("USER#x", models.ProfileSortKey), OldImage: profileImage},
					},
				},
				NextShardIterator: aws.String("s1-1"),
			},
		},
	}

	var changes []services.Change
	f := NewStreamFeed(stream, "arn:stream", models.UsersTable, func(c services.Change) { changes = append(changes, c) }, nil)
	require.NoError(t, f.discoverShards(ctx, true))
	require.NoError(t, f.Poll(ctx))

	require.Len(t, changes, 2)
	assert.Equal(t, services.Key{Table: models.UsersTable, PK: "USER#x", SK: models.ProfileSortKey}, changes[0].Key)
	assert.Nil(t, changes[0].Old)
	require.NotNil(t, changes[0].New)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "Xena"}, changes[0].New["firstName"])
	assert.NotNil(t, changes[1].Old)
	assert.Nil(t, changes[1].New)
	assert.Equal(t, aws.String("s1-1"), f.iterators["s1"])
}

func TestStreamFeed_ShardPositions(t *testing.T) {
	ctx := context.Background()
	closed := openShard("old")
	closed.SequenceNumberRange.EndingSequenceNumber = aws.String("9")
	stream := &fakeStream{
		shards:    []streamtypes.Shard{closed, openShard("live")},
		positions: map[string]streamtypes.ShardIteratorType{},
		pages: map[string]*dynamodbstreams.GetRecordsOutput{
			"live-0": {}, // no next iterator: the shard closed
		},
	}
	f := NewStreamFeed(stream, "arn:stream", models.UsersTable, func(services.Change) {}, nil)

	require.NoError(t, f.discoverShards(ctx, true))
	assert.Equal(t, map[string]streamtypes.ShardIteratorType{"live": streamtypes.ShardIteratorTypeLatest}, stream.positions)

	stream.shards = append(stream.shards, openShard("child"))
	require.NoError(t, f.Poll(ctx))
	assert.Equal(t, streamtypes.ShardIteratorTypeTrimHorizon, stream.positions["child"])
	assert.NotContains(t, f.iterators, "live")
	assert.Contains(t, f.iterators, "child")
}
