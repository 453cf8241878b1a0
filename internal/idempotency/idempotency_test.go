package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, 0, nil), mr
}

func TestRedisCheckAndMarkFirstTime(t *testing.T) {
	store, mr := newRedisStore(t)

	dup, cached := store.CheckAndMark(context.Background(), "msg-1234567890abcdef")
	assert.False(t, dup)
	assert.Nil(t, cached)

	val, err := mr.Get("idempotency:msg-1234567890abcdef")
	require.NoError(t, err)
	assert.Equal(t, "processing", val)
	assert.Equal(t, DefaultTTL, mr.TTL("idempotency:msg-1234567890abcdef"))
}

func TestRedisDuplicateWhileProcessing(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	store.CheckAndMark(ctx, "m1")
	dup, cached := store.CheckAndMark(ctx, "m1")
	assert.True(t, dup)
	assert.Nil(t, cached)
}

func TestRedisDuplicateReturnsCachedResult(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	store.CheckAndMark(ctx, "m1")
	require.True(t, store.MarkProcessed(ctx, "m1", map[string]any{"intent": "schedule"}))

	dup, cached := store.CheckAndMark(ctx, "m1")
	assert.True(t, dup)
	assert.Equal(t, "schedule", cached["intent"])
}

func TestRedisKeyExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	store.CheckAndMark(ctx, "m1")
	mr.FastForward(DefaultTTL + time.Second)

	dup, _ := store.CheckAndMark(ctx, "m1")
	assert.False(t, dup)
}

func TestRedisFailsOpen(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	dup, cached := store.CheckAndMark(context.Background(), "m1")
	assert.False(t, dup)
	assert.Nil(t, cached)
	assert.False(t, store.MarkProcessed(context.Background(), "m1", nil))
}

func TestPostgresCheckAndMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithExec(mock, nil)
	mock.ExpectExec("INSERT INTO processed_messages").
		WithArgs("m1", "processing").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dup, _ := store.CheckAndMark(context.Background(), "m1")
	assert.False(t, dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithExec(mock, nil)
	mock.ExpectExec("INSERT INTO processed_messages").
		WithArgs("m1", "processing").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT result FROM processed_messages").
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow([]byte(`{"intent":"cancel"}`)))

	dup, cached := store.CheckAndMark(context.Background(), "m1")
	assert.True(t, dup)
	assert.Equal(t, "cancel", cached["intent"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFailsOpen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithExec(mock, nil)
	mock.ExpectExec("INSERT INTO processed_messages").WillReturnError(errors.New("down"))

	dup, _ := store.CheckAndMark(context.Background(), "m1")
	assert.False(t, dup)
}
