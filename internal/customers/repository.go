// Package customers stores clinic customers and their WhatsApp message log.
package customers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Customer is one person who has messaged the clinic.
type Customer struct {
	ID          uuid.UUID `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Direction marks whether a message came from or went to the customer.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one logged WhatsApp message.
type Message struct {
	MessageID  string
	CustomerID uuid.UUID
	Direction  Direction
	Body       string
	Intent     string
	TraceID    string
}

// Repository persists customers and messages through database/sql.
type Repository struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewRepository(db *sql.DB, logger *logging.Logger) *Repository {
	if db == nil {
		panic("customers: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, logger: logger}
}

// FindByPhone returns the customer for phone or sql.ErrNoRows wrapped.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*Customer, error) {
	var c Customer
	var name sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, name, created_at
		FROM customers
		WHERE phone_number = $1
		LIMIT 1
	`, phone).Scan(&c.ID, &c.PhoneNumber, &name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("customers: find by phone: %w", err)
	}
	c.Name = name.String
	return &c, nil
}

// GetOrCreate returns the existing customer for phone or inserts one. A
// concurrent insert of the same phone is resolved by re-reading the row.
func (r *Repository) GetOrCreate(ctx context.Context, phone string) (*Customer, error) {
	existing, err := r.FindByPhone(ctx, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("customer lookup failed, attempting insert", "error", err)
	}

	c := Customer{ID: uuid.New(), PhoneNumber: phone, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, c.ID, c.PhoneNumber, c.CreatedAt)
	if err == nil {
		r.logger.WithPhone(phone).Info("customer created", "customer_id", c.ID)
		return &c, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		r.logger.WithPhone(phone).Info("customer created concurrently, re-reading")
		return r.FindByPhone(ctx, phone)
	}
	return nil, fmt.Errorf("customers: create: %w", err)
}

// SaveMessage appends to the message log. Duplicate message ids are ignored.
func (r *Repository) SaveMessage(ctx context.Context, msg Message) error {
	var intent sql.NullString
	if msg.Intent != "" {
		intent = sql.NullString{String: msg.Intent, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, message_id, customer_id, direction, body, intent, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`, uuid.New(), msg.MessageID, msg.CustomerID, string(msg.Direction), msg.Body, intent, msg.TraceID)
	if err != nil {
		return fmt.Errorf("customers: save message: %w", err)
	}
	return nil
}
