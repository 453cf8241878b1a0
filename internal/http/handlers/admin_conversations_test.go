package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontosorriso/scheduling-agent/internal/conversation"
	"github.com/odontosorriso/scheduling-agent/internal/fsm"
)

func newAdminRouter(t *testing.T) (http.Handler, *conversation.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := conversation.NewManager(conversation.NewRedisStateStore(client, nil), nil)
	h := NewAdminConversationsHandler(manager, nil)

	r := chi.NewRouter()
	r.Get("/admin/conversations", h.List)
	r.Get("/admin/conversations/{phone}", h.Get)
	r.Delete("/admin/conversations/{phone}", h.Clear)
	return r, manager
}

func seedConversation(t *testing.T, manager *conversation.Manager, phone string) {
	t.Helper()
	m := fsm.New(phone)
	m.SetData(fsm.KeyProcedure, "Limpeza")
	m.SetData(fsm.KeyDate, "2030-03-15")
	require.NoError(t, m.Transition(fsm.StateDateCollected))
	manager.Save(context.Background(), phone, m)
}

func doJSON(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestAdminGetConversation(t *testing.T) {
	router, manager := newAdminRouter(t)
	seedConversation(t, manager, "+5511999999999")

	code, out := doJSON(t, router, http.MethodGet, "/admin/conversations/5511999999999")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "+5511999999999", out["phone"])
	assert.Equal(t, "date_collected", out["current_state"])
	assert.Equal(t, map[string]any{"procedure": "Limpeza", "date": "2030-03-15"}, out["collected_data"])
}

func TestAdminGetMissingConversation(t *testing.T) {
	router, _ := newAdminRouter(t)
	code, _ := doJSON(t, router, http.MethodGet, "/admin/conversations/5511000000000")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminClearConversation(t *testing.T) {
	router, manager := newAdminRouter(t)
	seedConversation(t, manager, "+5511999999999")

	code, out := doJSON(t, router, http.MethodDelete, "/admin/conversations/5511999999999")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cleared", out["status"])

	code, _ = doJSON(t, router, http.MethodGet, "/admin/conversations/5511999999999")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminListConversations(t *testing.T) {
	router, manager := newAdminRouter(t)
	seedConversation(t, manager, "+5511911111111")
	seedConversation(t, manager, "+5511922222222")

	code, out := doJSON(t, router, http.MethodGet, "/admin/conversations")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, out["count"])

	code, _ = doJSON(t, router, http.MethodGet, "/admin/conversations?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)
}
