package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type recordingSink struct {
	entries []Entry
	err     error
}

func (r *recordingSink) Write(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

type mockS3 struct {
	keys   []string
	bodies [][]byte
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.keys = append(m.keys, *in.Key)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestQueueSendWritesAllSinks(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("debug", &buf)
	failing := &recordingSink{err: errors.New("db down")}
	ok := &recordingSink{}
	q := NewQueue(logger, failing, nil, ok)

	q.Send(context.Background(), "wamid-1", "", errors.New("llm timeout"), map[string]string{"body": "oi"}, "")

	require.Len(t, ok.entries, 1)
	e := ok.entries[0]
	assert.Equal(t, "wamid-1", e.MessageID)
	assert.Equal(t, ErrorTypeProcessing, e.ErrorType)
	assert.Equal(t, "llm timeout", e.ErrorMessage)
	assert.Equal(t, "unknown", e.TraceID)
	assert.False(t, e.Retried)
	assert.JSONEq(t, `{"body":"oi"}`, string(e.Payload))
	assert.Len(t, failing.entries, 1)
	assert.Contains(t, buf.String(), "dead letter persistence failed")
}

func TestS3SinkWritesDatedKey(t *testing.T) {
	client := &mockS3{}
	sink := NewS3Sink(client, "dlq-bucket")
	e := Entry{
		ID:        uuid.MustParse("6f1c7a5e-0000-4000-8000-000000000001"),
		MessageID: "wamid-1",
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, sink.Write(context.Background(), e))
	require.Len(t, client.keys, 1)
	assert.True(t, strings.HasPrefix(client.keys[0], "dead-letter/2025/01/20/wamid-1-"))

	var decoded Entry
	require.NoError(t, json.Unmarshal(client.bodies[0], &decoded))
	assert.Equal(t, "wamid-1", decoded.MessageID)
}

func TestS3SinkScrubsPersonalData(t *testing.T) {
	client := &mockS3{}
	sink := NewS3Sink(client, "dlq-bucket")
	e := Entry{
		ID:           uuid.New(),
		MessageID:    "wamid-2",
		ErrorMessage: "send to 5511999998888 failed",
		Payload:      json.RawMessage(`{"to":"5511999998888","reply":"Consulta em 2025-01-20 às 14:00, código APPT-1A2B3C4D"}`),
		CreatedAt:    time.Now(),
	}

	require.NoError(t, sink.Write(context.Background(), e))
	require.Len(t, client.bodies, 1)
	var decoded Entry
	require.NoError(t, json.Unmarshal(client.bodies[0], &decoded))
	assert.Equal(t, "send to [PHONE] failed", decoded.ErrorMessage)
	assert.JSONEq(t, `{"to":"[PHONE]","reply":"Consulta em 2025-01-20 às 14:00, código APPT-1A2B3C4D"}`, string(decoded.Payload))
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "meu email é ana@exemplo.com.br ok", "meu email é [EMAIL] ok"},
		{"cpf", "CPF 123.456.789-09", "CPF [CPF]"},
		{"whatsapp number", "+55 (11) 99999-8888", "[PHONE]"},
		{"bare number", "5511999998888", "[PHONE]"},
		{"date kept", "dia 2025-01-20", "dia 2025-01-20"},
		{"time kept", "às 14:00", "às 14:00"},
		{"code kept", "APPT-12345678", "APPT-12345678"},
		{"no pii", "quero marcar uma limpeza", "quero marcar uma limpeza"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubEntryKeepsPayloadValidJSON(t *testing.T) {
	e := scrubEntry(Entry{Payload: json.RawMessage(`{"n":11999998888}`)})
	assert.True(t, json.Valid(e.Payload), string(e.Payload))
}

func TestS3SinkDisabledWithoutBucket(t *testing.T) {
	client := &mockS3{}
	sink := NewS3Sink(client, "")
	assert.False(t, sink.Enabled())
	require.NoError(t, sink.Write(context.Background(), Entry{}))
	assert.Empty(t, client.keys)
}

func TestPostgresSinkWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := newPostgresSinkWithExec(mock)
	e := Entry{ID: uuid.New(), MessageID: "m1", ErrorType: ErrorTypeProcessing, ErrorMessage: "x", Payload: json.RawMessage(`{}`), TraceID: "t", CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO dead_letter_queue").
		WithArgs(e.ID, "m1", ErrorTypeProcessing, "x", []byte(`{}`), "t", false, e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Write(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkPendingAndMarkRetried(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := newPostgresSinkWithExec(mock)
	id := uuid.New()
	created := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, message_id").
		WithArgs(false, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "message_id", "error_type", "error_message", "payload", "trace_id", "retried", "created_at"}).
			AddRow(id, "m1", ErrorTypeProcessing, "boom", []byte(`{"a":1}`), "t1", false, created))
	mock.ExpectExec("UPDATE dead_letter_queue").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE dead_letter_queue").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	entries, err := sink.Pending(context.Background(), 0, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ErrorMessage)
	assert.JSONEq(t, `{"a":1}`, string(entries[0].Payload))

	require.NoError(t, sink.MarkRetried(context.Background(), id))
	assert.Error(t, sink.MarkRetried(context.Background(), uuid.New()))
	require.NoError(t, mock.ExpectationsWereMet())
}
