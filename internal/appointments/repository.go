// Package appointments persists booked clinic appointments in Postgres.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status values stored in appointments.status.
const (
	StatusScheduled = "scheduled"
	StatusCanceled  = "canceled"
)

// ErrNotFound is returned when no appointment matches a confirmation code.
var ErrNotFound = errors.New("appointments: not found")

// ErrSlotTaken is returned by Create when another active appointment holds
// the same date and time.
var ErrSlotTaken = errors.New("appointments: slot already booked")

const (
	uniqueViolation = "23505"
	slotConstraint  = "appointments_active_slot_key"
)

// Appointment is one booked slot.
type Appointment struct {
	ID               uuid.UUID
	CustomerID       uuid.UUID
	Date             string // YYYY-MM-DD
	Time             string // HH:MM
	Procedure        string
	Status           string
	ConfirmationCode string
	CalendarEventID  string
	CreatedAt        time.Time
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool rowQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithExec(exec rowQuerier) *Repository {
	if exec == nil {
		panic("appointments: exec required")
	}
	return &Repository{pool: exec}
}

// Create inserts a scheduled appointment and fills in its id and timestamp.
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return errors.New("appointments: appointment required")
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	query := `
		INSERT INTO appointments (id, customer_id, scheduled_date, scheduled_time, procedure, status, confirmation_code)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		appt.ID, appt.CustomerID, appt.Date, appt.Time, nullable(appt.Procedure), appt.Status, appt.ConfirmationCode,
	).Scan(&appt.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == slotConstraint {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// GetByCode looks an appointment up by its customer-facing confirmation code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*Appointment, error) {
	query := `
		SELECT id, customer_id, scheduled_date::text, to_char(scheduled_time, 'HH24:MI'),
		       COALESCE(procedure, ''), status, confirmation_code, COALESCE(calendar_event_id, ''), created_at
		FROM appointments
		WHERE confirmation_code = $1
	`
	var a Appointment
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&a.ID, &a.CustomerID, &a.Date, &a.Time, &a.Procedure, &a.Status, &a.ConfirmationCode, &a.CalendarEventID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: get by code: %w", err)
	}
	return &a, nil
}

// Cancel marks the appointment with code as canceled.
func (r *Repository) Cancel(ctx context.Context, code string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = NOW()
		WHERE confirmation_code = $1
	`, code, StatusCanceled)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCalendarEventID links an appointment to its calendar event.
func (r *Repository) SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments SET calendar_event_id = $2, updated_at = NOW() WHERE id = $1
	`, id, eventID)
	if err != nil {
		return fmt.Errorf("appointments: set calendar event: %w", err)
	}
	return nil
}

// BookedTimesForDate returns the HH:MM start times taken on date by
// appointments that are not canceled.
func (r *Repository) BookedTimesForDate(ctx context.Context, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(scheduled_time, 'HH24:MI')
		FROM appointments
		WHERE scheduled_date = $1::date AND status <> $2
		ORDER BY scheduled_time
	`, date, StatusCanceled)
	if err != nil {
		return nil, fmt.Errorf("appointments: booked times: %w", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("appointments: scan booked time: %w", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: booked times: %w", err)
	}
	return times, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
