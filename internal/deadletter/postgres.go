package deadletter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSink stores entries in the dead_letter_queue table.
type PostgresSink struct {
	pool querier
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	if pool == nil {
		panic("deadletter: pgx pool required")
	}
	return &PostgresSink{pool: pool}
}

func newPostgresSinkWithExec(exec querier) *PostgresSink {
	if exec == nil {
		panic("deadletter: exec required")
	}
	return &PostgresSink{pool: exec}
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter_queue (id, message_id, error_type, error_message, payload, trace_id, retried, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.MessageID, e.ErrorType, e.ErrorMessage, []byte(e.Payload), e.TraceID, e.Retried, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("deadletter: insert: %w", err)
	}
	return nil
}

// Pending lists entries oldest first. Retried entries are skipped unless
// includeRetried is set.
func (s *PostgresSink) Pending(ctx context.Context, limit int, includeRetried bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, message_id, error_type, error_message, payload, trace_id, retried, created_at
		FROM dead_letter_queue
		WHERE ($1 OR retried = false)
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, includeRetried, limit)
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ErrorType, &e.ErrorMessage, &payload, &e.TraceID, &e.Retried, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("deadletter: scan: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkRetried flags an entry as replayed.
func (s *PostgresSink) MarkRetried(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `UPDATE dead_letter_queue SET retried = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deadletter: mark retried: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("deadletter: entry %s not found", id)
	}
	return nil
}
