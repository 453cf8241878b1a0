package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type stateDynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is the table layout; expiresAt drives DynamoDB TTL.
type dynamoItem struct {
	Phone     string `dynamodbav:"phone"`
	Record    Record `dynamodbav:"record"`
	UpdatedAt string `dynamodbav:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoStateStore persists conversations to a DynamoDB table keyed by phone.
// DynamoDB deletes expired items lazily, so reads filter on expiresAt too.
type DynamoStateStore struct {
	client    stateDynamoAPI
	tableName string
	tracer    trace.Tracer
	now       func() time.Time
}

var _ StateStore = (*DynamoStateStore)(nil)

func NewDynamoStateStore(client stateDynamoAPI, tableName string, tracer trace.Tracer) *DynamoStateStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if tracer == nil {
		tracer = otel.Tracer("odontosorriso.internal.conversation.dynamo")
	}
	return &DynamoStateStore{client: client, tableName: tableName, tracer: tracer, now: time.Now}
}

func (s *DynamoStateStore) key(phone string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"phone": &types.AttributeValueMemberS{Value: phone},
	}
}

func (s *DynamoStateStore) Load(ctx context.Context, phone string) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.dynamo.load_state")
	defer span.End()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(phone),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conversation: failed to load state: %w", err)
	}
	if out.Item == nil {
		return Record{}, ErrNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conversation: failed to decode state: %w", err)
	}
	if item.ExpiresAt > 0 && item.ExpiresAt <= s.now().Unix() {
		return Record{}, ErrNotFound
	}
	return item.Record, nil
}

func (s *DynamoStateStore) Save(ctx context.Context, phone string, rec Record, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "conversation.dynamo.save_state")
	defer span.End()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(dynamoItem{
		Phone:     phone,
		Record:    rec,
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal state: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist state: %w", err)
	}
	return nil
}

func (s *DynamoStateStore) Delete(ctx context.Context, phone string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.dynamo.delete_state")
	defer span.End()

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(phone),
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete state: %w", err)
	}
	return nil
}

func (s *DynamoStateStore) List(ctx context.Context, limit int) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.dynamo.list_states")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("expiresAt > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", s.now().Unix())},
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to scan states: %w", err)
	}

	var items []dynamoItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode states: %w", err)
	}
	summaries := make([]Summary, 0, len(items))
	for _, item := range items {
		if len(summaries) == limit {
			break
		}
		summaries = append(summaries, Summary{
			Phone:         item.Phone,
			State:         item.Record.CurrentState,
			CollectedData: item.Record.CollectedData,
		})
	}
	return summaries, nil
}

// IsNotFound reports whether err means no live state exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
