package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odontosorriso/scheduling-agent/internal/conversation"
	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

const maxConversationList = 20

// ConversationAdmin is the state-manager surface the admin routes need.
type ConversationAdmin interface {
	Peek(ctx context.Context, phone string) (conversation.Record, error)
	Clear(ctx context.Context, phone string) error
	List(ctx context.Context, limit int) ([]conversation.Summary, error)
}

// AdminConversationsHandler lets operators inspect and reset customer
// conversations.
type AdminConversationsHandler struct {
	conversations ConversationAdmin
	logger        *logging.Logger
}

func NewAdminConversationsHandler(conversations ConversationAdmin, logger *logging.Logger) *AdminConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{conversations: conversations, logger: logger}
}

// Get returns the stored state for {phone}.
func (h *AdminConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	phone := whatsapp.NormalizeE164(chi.URLParam(r, "phone"))
	rec, err := h.conversations.Peek(r.Context(), phone)
	if errors.Is(err, conversation.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "conversation not found", "phone": phone})
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "phone", logging.MaskPhone(phone), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to load conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phone":          phone,
		"current_state":  rec.CurrentState,
		"collected_data": rec.CollectedData,
		"history":        rec.History,
	})
}

// Clear deletes the stored state for {phone}.
func (h *AdminConversationsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	phone := whatsapp.NormalizeE164(chi.URLParam(r, "phone"))
	if err := h.conversations.Clear(r.Context(), phone); err != nil {
		h.logger.Error("failed to clear conversation", "phone", logging.MaskPhone(phone), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to clear conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "phone": phone})
}

// List returns active conversations, at most 20.
func (h *AdminConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := maxConversationList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}
	items, err := h.conversations.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to list conversations"})
		return
	}
	if items == nil {
		items = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items, "count": len(items)})
}
