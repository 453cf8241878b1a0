package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontosorriso/scheduling-agent/internal/fsm"
)

func newRedisManager(t *testing.T, opts ...ManagerOption) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(NewRedisStateStore(client, nil), nil, opts...), mr
}

func TestGetOrCreateReturnsFreshMachine(t *testing.T) {
	mgr, _ := newRedisManager(t)
	m := mgr.GetOrCreate(context.Background(), "+5511999998888")
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
	assert.Equal(t, "+5511999998888", m.CustomerID)
	assert.Empty(t, m.CollectedData)
}

func TestSaveThenLoadRoundTripsWithTTL(t *testing.T) {
	mgr, mr := newRedisManager(t)
	ctx := context.Background()
	phone := "+5511999998888"

	m := fsm.New(phone)
	m.SetData(fsm.KeyProcedure, "Limpeza")
	m.SetData(fsm.KeyDate, "2026-02-15")
	require.NoError(t, m.Transition(fsm.StateDateCollected))
	mgr.Save(ctx, phone, m)

	raw, err := mr.Get("conversation:" + phone)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "date_collected", stored["current_state"])
	assert.Equal(t, []any{"initiated"}, stored["history"])
	assert.Equal(t, time.Hour, mr.TTL("conversation:"+phone))

	loaded := mgr.GetOrCreate(ctx, phone)
	assert.Equal(t, m, loaded)
}

func TestStateExpiresAfterTTL(t *testing.T) {
	mgr, mr := newRedisManager(t, WithTTL(10*time.Minute))
	ctx := context.Background()
	m := fsm.New("+1")
	m.SetData(fsm.KeyProcedure, "Canal")
	mgr.Save(ctx, "+1", m)
	assert.Equal(t, 10*time.Minute, mr.TTL("conversation:+1"))

	mr.FastForward(11 * time.Minute)
	assert.Empty(t, mgr.GetOrCreate(ctx, "+1").CollectedData)
}

func TestSaveRefreshesTTL(t *testing.T) {
	mgr, mr := newRedisManager(t)
	ctx := context.Background()
	m := fsm.New("+1")
	mgr.Save(ctx, "+1", m)
	mr.FastForward(50 * time.Minute)
	mgr.Save(ctx, "+1", m)
	assert.Equal(t, time.Hour, mr.TTL("conversation:+1"))
}

func TestGetOrCreateFailsOpenOnCorruptRecord(t *testing.T) {
	mgr, mr := newRedisManager(t)
	require.NoError(t, mr.Set("conversation:+1", "{not json"))
	m := mgr.GetOrCreate(context.Background(), "+1")
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)

	require.NoError(t, mr.Set("conversation:+2", `{"current_state":"teleported","collected_data":{},"history":[]}`))
	m = mgr.GetOrCreate(context.Background(), "+2")
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
}

type recordingFailures struct{ ops []string }

func (r *recordingFailures) ObserveStateStoreFailure(op string) { r.ops = append(r.ops, op) }

func TestStoreOutageIsSwallowed(t *testing.T) {
	failures := &recordingFailures{}
	mgr, mr := newRedisManager(t, WithFailureRecorder(failures))
	mr.Close()

	ctx := context.Background()
	m := mgr.GetOrCreate(ctx, "+1")
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)

	assert.NotPanics(t, func() { mgr.Save(ctx, "+1", m) })
	assert.Error(t, mgr.Clear(ctx, "+1"))
	assert.Equal(t, []string{"load", "save", "delete"}, failures.ops)
}

func TestClearDeletesState(t *testing.T) {
	mgr, mr := newRedisManager(t)
	ctx := context.Background()
	m := fsm.New("+1")
	m.SetData(fsm.KeyTime, "10:00")
	mgr.Save(ctx, "+1", m)

	require.NoError(t, mgr.Clear(ctx, "+1"))
	assert.False(t, mr.Exists("conversation:+1"))
	_, err := mgr.Peek(ctx, "+1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListActiveConversations(t *testing.T) {
	mgr, mr := newRedisManager(t)
	ctx := context.Background()
	for _, phone := range []string{"+1", "+2", "+3"} {
		m := fsm.New(phone)
		m.SetData(fsm.KeyProcedure, "Limpeza")
		mgr.Save(ctx, phone, m)
	}
	require.NoError(t, mr.Set("idempotency:abc", "processing"))

	all, err := mgr.List(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, s := range all {
		assert.True(t, strings.HasPrefix(s.Phone, "+"))
		assert.Equal(t, "initiated", s.State)
		assert.Equal(t, "Limpeza", s.CollectedData["procedure"])
	}

	limited, err := mgr.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestBuildContextPrompt(t *testing.T) {
	assert.Equal(t, "", BuildContextPrompt(fsm.New("+1")))
	assert.Equal(t, "", BuildContextPrompt(nil))

	m := fsm.New("+1")
	m.SetData(fsm.KeyProcedure, "Limpeza")
	m.SetData(fsm.KeyTime, "14:00")
	m.SetData(fsm.KeyDate, "2026-02-15")
	m.SetData(fsm.KeyName, "Ana")
	m.SetData("confirmation_code", "APPT-ABCDEF12")

	got := BuildContextPrompt(m)
	want := contextHeader + "\n" +
		"- **Confirmation Code:** APPT-ABCDEF12\n" +
		"- **Data:** 2026-02-15\n" +
		"- **Nome:** Ana\n" +
		"- **Procedimento:** Limpeza\n" +
		"- **Horário:** 14:00\n" +
		"\n" + contextFooter + "\n"
	assert.Equal(t, want, got)
	assert.Contains(t, got, "NÃO PERGUNTE NOVAMENTE")
}

func TestRecordMachineDefaultsEmptyState(t *testing.T) {
	m, err := Record{}.Machine("+1")
	require.NoError(t, err)
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
}
