package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

const maxWebhookBody = 1 << 20

// Deduplicator claims a message id before it is processed.
type Deduplicator interface {
	CheckAndMark(ctx context.Context, messageID string) (bool, map[string]any)
}

// MessageEnqueuer hands accepted messages to the worker queue.
type MessageEnqueuer interface {
	Enqueue(ctx context.Context, msg whatsapp.Message) (string, error)
}

type InboundRecorder interface {
	ObserveInbound(status string)
}

// WhatsAppWebhookHandler receives Evolution API webhooks.
type WhatsAppWebhookHandler struct {
	dedup    Deduplicator
	queue    MessageEnqueuer
	recorder InboundRecorder
	logger   *logging.Logger
}

func NewWhatsAppWebhookHandler(dedup Deduplicator, queue MessageEnqueuer, recorder InboundRecorder, logger *logging.Logger) *WhatsAppWebhookHandler {
	if queue == nil {
		panic("handlers: message queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{dedup: dedup, queue: queue, recorder: recorder, logger: logger}
}

// Handle accepts one webhook. Processing happens on the worker; the
// response only says whether the message was queued.
func (h *WhatsAppWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.EvolutionWebhook
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		h.observe("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
		return
	}

	msg, ok := payload.ToMessage()
	if !ok {
		h.observe("ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if err := msg.Validate(); err != nil {
		h.observe("invalid")
		var verr *whatsapp.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid message", "fields": verr.Fields})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	log := h.logger.WithPhone(msg.FromNumber).With("message_id", msg.MessageID)
	log.Info("webhook received", "body_length", len(msg.Body))

	if h.dedup != nil {
		if dup, prior := h.dedup.CheckAndMark(r.Context(), msg.MessageID); dup {
			log.Info("duplicate message skipped")
			h.observe("duplicate")
			resp := map[string]any{"status": "duplicate", "message_id": msg.MessageID}
			if prior != nil {
				resp["result"] = prior
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	jobID, err := h.queue.Enqueue(r.Context(), msg)
	if err != nil {
		log.Error("failed to enqueue message", "error", err)
		h.observe("enqueue_failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporarily unavailable", "message_id": msg.MessageID})
		return
	}

	h.observe("accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"message_id": msg.MessageID,
		"job_id":     jobID,
	})
}

// Health reports the webhook endpoint as up.
func (h *WhatsAppWebhookHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "endpoint": "webhook"})
}

func (h *WhatsAppWebhookHandler) observe(status string) {
	if h.recorder != nil {
		h.recorder.ObserveInbound(status)
	}
}
