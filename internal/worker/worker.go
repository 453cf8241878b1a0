package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/odontosorriso/scheduling-agent/internal/agent"
	"github.com/odontosorriso/scheduling-agent/internal/deadletter"
	"github.com/odontosorriso/scheduling-agent/internal/nlg"
	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Processor turns one inbound message into a reply.
type Processor interface {
	Process(ctx context.Context, msg whatsapp.Message) (agent.Response, error)
}

// ProcessedMarker records the result of a handled message id.
type ProcessedMarker interface {
	MarkProcessed(ctx context.Context, messageID string, result map[string]any) bool
}

// DeadLetter receives messages whose handling failed.
type DeadLetter interface {
	Send(ctx context.Context, messageID, errorType string, cause error, payload any, traceID string)
}

type OutboundRecorder interface {
	ObserveOutbound(status string)
}

// DeliveryPayload is dead-lettered when a reply could not be sent, so it can
// be replayed without reprocessing the message.
type DeliveryPayload struct {
	To        string `json:"to"`
	Reply     string `json:"reply"`
	MessageID string `json:"message_id"`
}

// Worker consumes message jobs from the queue, runs them through the agent
// and sends the reply.
type Worker struct {
	processor Processor
	queue     Queue
	sender    whatsapp.Sender
	processed ProcessedMarker
	dlq       DeadLetter
	recorder  OutboundRecorder
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processTimeout   time.Duration
}

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 2
	defaultBatchSize      = 5
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	deleteTimeoutSeconds  = 5
	defaultProcessTimeout = 30 * time.Second
	sendTimeout           = 15 * time.Second
)

// Option customizes worker behavior.
type Option func(*Worker)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) Option {
	return func(w *Worker) {
		if count > 0 {
			w.cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) Option {
	return func(w *Worker) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		w.cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) Option {
	return func(w *Worker) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		w.cfg.receiveBatchSize = size
	}
}

// WithProcessTimeout bounds one run of the agent pipeline.
func WithProcessTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.cfg.processTimeout = d
		}
	}
}

func WithProcessedMarker(m ProcessedMarker) Option {
	return func(w *Worker) { w.processed = m }
}

func WithDeadLetter(d DeadLetter) Option {
	return func(w *Worker) { w.dlq = d }
}

func WithOutboundRecorder(r OutboundRecorder) Option {
	return func(w *Worker) { w.recorder = r }
}

func NewWorker(processor Processor, queue Queue, sender whatsapp.Sender, logger *logging.Logger, opts ...Option) *Worker {
	if processor == nil {
		panic("worker: processor cannot be nil")
	}
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if sender == nil {
		panic("worker: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		processor: processor,
		queue:     queue,
		sender:    sender,
		logger:    logger,
		cfg: workerConfig{
			workers:          defaultWorkerCount,
			receiveWaitSecs:  defaultWaitSeconds,
			receiveBatchSize: defaultBatchSize,
			processTimeout:   defaultProcessTimeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.dlq == nil {
		w.dlq = deadletter.NewQueue(logger)
	}
	return w
}

// Start launches the consumer goroutines. They stop when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("message worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("message worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive message jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// HandleMessage runs a single queue message through the processor and delivers
// the reply. Messages without a receipt handle are not deleted from the queue,
// which lets event-driven consumers acknowledge them on their own.
func (w *Worker) HandleMessage(ctx context.Context, qm QueueMessage) {
	w.handleMessage(ctx, qm)
}

func (w *Worker) handleMessage(ctx context.Context, qm QueueMessage) {
	defer w.deleteMessage(ctx, qm.ReceiptHandle)

	job, err := decodeJob(qm.Body)
	if err != nil {
		w.logger.Error("dropping malformed message job", "queue_message_id", qm.ID, "error", err)
		w.dlq.Send(ctx, qm.ID, deadletter.ErrorTypeProcessing, err, qm.Body, "")
		return
	}
	msg := job.Message
	log := w.logger.WithPhone(msg.FromNumber).With("job_id", job.ID, "message_id", msg.MessageID)

	procCtx, cancel := context.WithTimeout(ctx, w.cfg.processTimeout)
	resp, err := w.processor.Process(procCtx, msg)
	cancel()
	if err != nil {
		errType := deadletter.ErrorTypeProcessing
		if errors.Is(err, context.DeadlineExceeded) {
			errType = deadletter.ErrorTypeTimeout
		}
		log.Error("message processing failed", "error", err, "error_type", errType)
		w.dlq.Send(ctx, msg.MessageID, errType, err, msg, "")
		w.deliver(ctx, log, msg, nlg.FallbackMessage, "")
		return
	}

	if resp.ToolError != "" {
		w.dlq.Send(ctx, msg.MessageID, deadletter.ErrorTypeTool, errors.New(resp.ToolError), msg, resp.TraceID)
	}

	w.deliver(ctx, log, msg, resp.Reply, resp.TraceID)

	if w.processed != nil {
		w.processed.MarkProcessed(ctx, msg.MessageID, map[string]any{
			"intent":   string(resp.Intent),
			"trace_id": resp.TraceID,
		})
	}
	log.Info("message job completed", "trace_id", resp.TraceID, "intent", resp.Intent)
}

// deliver sends the reply; a failed send is dead-lettered with the reply
// text so it can be resent later.
func (w *Worker) deliver(ctx context.Context, log *logging.Logger, msg whatsapp.Message, reply, traceID string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := w.sender.SendText(sendCtx, msg.FromNumber, reply); err != nil {
		log.Error("reply delivery failed", "error", err)
		w.observe("failed")
		w.dlq.Send(ctx, msg.MessageID, deadletter.ErrorTypeDelivery, err, DeliveryPayload{
			To:        msg.FromNumber,
			Reply:     reply,
			MessageID: msg.MessageID,
		}, traceID)
		return
	}
	w.observe("sent")
}

func (w *Worker) observe(status string) {
	if w.recorder != nil {
		w.recorder.ObserveOutbound(status)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete message job", "error", err)
	}
}
