package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisStateStore keeps each conversation under conversation:<phone> with a
// sliding expiry.
type RedisStateStore struct {
	redis  redis.UniversalClient
	tracer trace.Tracer
}

var _ StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(client redis.UniversalClient, tracer trace.Tracer) *RedisStateStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("odontosorriso.internal.conversation.redis")
	}
	return &RedisStateStore{redis: client, tracer: tracer}
}

func (s *RedisStateStore) Load(ctx context.Context, phone string) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_state")
	defer span.End()

	data, err := s.redis.Get(ctx, stateKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		span.RecordError(err)
		return Record{}, fmt.Errorf("conversation: failed to load state: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conversation: failed to decode state: %w", err)
	}
	return rec, nil
}

func (s *RedisStateStore) Save(ctx context.Context, phone string, rec Record, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_state")
	defer span.End()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(phone), data, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, phone string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_state")
	defer span.End()

	if err := s.redis.Del(ctx, stateKey(phone)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete state: %w", err)
	}
	return nil
}

// List walks conversation keys with SCAN, so expired conversations never
// appear and the keyspace is not blocked.
func (s *RedisStateStore) List(ctx context.Context, limit int) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.list_states")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	span.SetAttributes(attribute.Int("limit", limit))

	var out []Summary
	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) && len(out) < limit {
		key := iter.Val()
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to read %s: %w", key, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Summary{
			Phone:         strings.TrimPrefix(key, keyPrefix),
			State:         rec.CurrentState,
			CollectedData: rec.CollectedData,
		})
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to scan states: %w", err)
	}
	return out, nil
}
