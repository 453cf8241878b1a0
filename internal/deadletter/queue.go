// Package deadletter records inbound messages whose processing failed so an
// operator can inspect and replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Error types attached to entries.
const (
	ErrorTypeProcessing = "processing_error"
	ErrorTypeDelivery   = "delivery_error"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeTool       = "tool_error"
)

// Entry is one failed message.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	MessageID    string          `json:"message_id"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	Payload      json.RawMessage `json:"payload"`
	TraceID      string          `json:"trace_id"`
	Retried      bool            `json:"retried"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Sink persists entries somewhere durable.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Queue fans an entry out to every sink. Sink failures are logged and
// swallowed so the caller's error path never fails twice.
type Queue struct {
	sinks  []Sink
	logger *logging.Logger
}

func NewQueue(logger *logging.Logger, sinks ...Sink) *Queue {
	if logger == nil {
		logger = logging.Default()
	}
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Queue{sinks: active, logger: logger}
}

// Send records a failed message. payload is marshaled to JSON.
func (q *Queue) Send(ctx context.Context, messageID, errorType string, cause error, payload any, traceID string) {
	if errorType == "" {
		errorType = ErrorTypeProcessing
	}
	if traceID == "" {
		traceID = "unknown"
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`null`)
	}

	entry := Entry{
		ID:           uuid.New(),
		MessageID:    messageID,
		ErrorType:    errorType,
		ErrorMessage: msg,
		Payload:      raw,
		TraceID:      traceID,
		CreatedAt:    time.Now().UTC(),
	}

	q.logger.Error("message sent to dead letter queue",
		"message_id", messageID,
		"error_type", errorType,
		"error", msg,
		"trace_id", traceID,
	)

	for _, s := range q.sinks {
		if err := s.Write(ctx, entry); err != nil {
			q.logger.Error("dead letter persistence failed", "message_id", messageID, "error", err)
		}
	}
}
