// Package worker moves inbound WhatsApp messages from the webhook to the
// agent through a queue and delivers the replies.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
)

// Queue is the transport between the webhook and the worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is the queued unit of work: one inbound customer message.
type Job struct {
	ID         string           `json:"id"`
	Message    whatsapp.Message `json:"message"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("worker: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("worker: failed to decode job: %w", err)
	}
	if job.Message.MessageID == "" || job.Message.FromNumber == "" {
		return Job{}, fmt.Errorf("worker: job %q has no message", job.ID)
	}
	return job, nil
}
