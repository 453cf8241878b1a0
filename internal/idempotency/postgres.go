package idempotency

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore claims message ids in the processed_messages table. Rows do
// not expire; a database constraint provides the atomicity.
type PostgresStore struct {
	pool   rowQuerier
	logger *logging.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("idempotency: pgx pool required")
	}
	return newPostgresStoreWithExec(pool, logger)
}

func newPostgresStoreWithExec(exec rowQuerier, logger *logging.Logger) *PostgresStore {
	if exec == nil {
		panic("idempotency: exec required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{pool: exec, logger: logger}
}

func (s *PostgresStore) CheckAndMark(ctx context.Context, messageID string) (bool, map[string]any) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (message_id, status)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, processingMarker)
	if err != nil {
		s.logger.Warn("idempotency check failed, processing anyway", "message_id", messageID, "error", err)
		return false, nil
	}
	if ct.RowsAffected() > 0 {
		return false, nil
	}

	var raw []byte
	var cached map[string]any
	err = s.pool.QueryRow(ctx, `SELECT result FROM processed_messages WHERE message_id = $1`, messageID).Scan(&raw)
	if err == nil && len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr != nil {
			cached = nil
		}
	}
	s.logger.Info("duplicate message detected", "message_id", messageID, "has_cached_result", cached != nil)
	return true, cached
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string, result map[string]any) bool {
	var raw []byte
	if len(result) > 0 {
		raw, _ = json.Marshal(result)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (message_id, status, result, processed_at)
		VALUES ($1, 'processed', $2, NOW())
		ON CONFLICT (message_id) DO UPDATE
		SET status = 'processed', result = EXCLUDED.result, processed_at = NOW()
	`, messageID, raw)
	if err != nil {
		s.logger.Warn("mark processed failed", "message_id", messageID, "error", err)
		return false
	}
	return true
}
