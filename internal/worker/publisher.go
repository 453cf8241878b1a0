package worker

import (
	"context"
	"fmt"

	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous processing.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue publishes one message and returns the job id.
func (p *Publisher) Enqueue(ctx context.Context, msg whatsapp.Message) (string, error) {
	job, body, err := encodeJob(Job{Message: msg})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("worker: failed to enqueue message: %w", err)
	}
	p.logger.Debug("message job enqueued", "job_id", job.ID, "message_id", msg.MessageID)
	return job.ID, nil
}
