package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odontosorriso/scheduling-agent/internal/deadletter"
	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type replayStore interface {
	Pending(ctx context.Context, limit int, includeRetried bool) ([]deadletter.Entry, error)
	MarkRetried(ctx context.Context, id uuid.UUID) error
}

// Replayer resends replies that were dead-lettered as delivery errors.
// Other error types need an operator and are left alone.
type Replayer struct {
	store     replayStore
	sender    whatsapp.Sender
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
	maxAge    time.Duration
	now       func() time.Time
}

func NewReplayer(store replayStore, sender whatsapp.Sender, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{
		store:     store,
		sender:    sender,
		logger:    logger,
		interval:  time.Minute,
		batchSize: 25,
		maxAge:    6 * time.Hour,
		now:       time.Now,
	}
}

func (r *Replayer) WithInterval(d time.Duration) *Replayer {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Replayer) WithBatchSize(n int) *Replayer {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// WithMaxAge skips replies older than d; a late answer confuses more than it helps.
func (r *Replayer) WithMaxAge(d time.Duration) *Replayer {
	if d > 0 {
		r.maxAge = d
	}
	return r
}

func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain makes one pass over pending entries and returns how many replies
// were resent.
func (r *Replayer) Drain(ctx context.Context) int {
	if r.store == nil || r.sender == nil {
		return 0
	}
	entries, err := r.store.Pending(ctx, r.batchSize, false)
	if err != nil {
		r.logger.Error("dead letter fetch failed", "error", err)
		return 0
	}

	sent := 0
	for _, e := range entries {
		if e.ErrorType != deadletter.ErrorTypeDelivery {
			continue
		}
		if r.now().Sub(e.CreatedAt) > r.maxAge {
			continue
		}
		var p DeliveryPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.To == "" || p.Reply == "" {
			r.logger.Warn("dead letter payload not replayable", "entry_id", e.ID, "message_id", e.MessageID)
			continue
		}
		if err := r.sender.SendText(ctx, p.To, p.Reply); err != nil {
			r.logger.Warn("reply replay failed", "entry_id", e.ID, "message_id", e.MessageID, "error", err)
			continue
		}
		if err := r.store.MarkRetried(ctx, e.ID); err != nil {
			r.logger.Error("mark retried failed", "entry_id", e.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.logger.Info("dead letter replies resent", "count", sent)
	}
	return sent
}
