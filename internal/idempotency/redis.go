// Package idempotency makes sure each inbound WhatsApp message id is handled
// once. Every backend fails open: when the store is unreachable the message is
// processed rather than dropped.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

const (
	DefaultTTL = 24 * time.Hour

	keyPrefix        = "idempotency:"
	processingMarker = "processing"
)

// Store is implemented by every idempotency backend.
type Store interface {
	// CheckAndMark atomically claims messageID. It reports true when the id
	// was already claimed, along with any result stored by MarkProcessed.
	CheckAndMark(ctx context.Context, messageID string) (bool, map[string]any)
	// MarkProcessed records the outcome for a claimed id.
	MarkProcessed(ctx context.Context, messageID string, result map[string]any) bool
}

// RedisStore keeps claims as string keys with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.Logger
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *RedisStore {
	if client == nil {
		panic("idempotency: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) CheckAndMark(ctx context.Context, messageID string) (bool, map[string]any) {
	key := keyPrefix + messageID
	acquired, err := s.client.SetNX(ctx, key, processingMarker, s.ttl).Result()
	if err != nil {
		s.logger.Warn("idempotency check failed, processing anyway", "message_id", messageID, "error", err)
		return false, nil
	}
	if acquired {
		s.logger.Debug("idempotency key acquired", "message_id", messageID)
		return false, nil
	}

	var cached map[string]any
	stored, err := s.client.Get(ctx, key).Result()
	if err == nil && stored != processingMarker {
		if jsonErr := json.Unmarshal([]byte(stored), &cached); jsonErr != nil {
			cached = nil
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("idempotency cached result read failed", "message_id", messageID, "error", err)
	}

	s.logger.Info("duplicate message detected", "message_id", messageID, "has_cached_result", cached != nil)
	return true, cached
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string, result map[string]any) bool {
	value := "processed"
	if len(result) > 0 {
		if raw, err := json.Marshal(result); err == nil {
			value = string(raw)
		}
	}
	if err := s.client.Set(ctx, keyPrefix+messageID, value, s.ttl).Err(); err != nil {
		s.logger.Warn("mark processed failed", "message_id", messageID, "error", err)
		return false
	}
	s.logger.Info("message marked processed", "message_id", messageID)
	return true
}
