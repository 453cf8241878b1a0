package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"

	"github.com/odontosorriso/scheduling-agent/internal/worker"
)

type recordingHandler struct {
	handled []worker.QueueMessage
}

func (r *recordingHandler) HandleMessage(_ context.Context, qm worker.QueueMessage) {
	r.handled = append(r.handled, qm)
}

func TestHandleProcessesEveryRecord(t *testing.T) {
	h := &recordingHandler{}
	evt := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: `{"id":"j-1"}`, ReceiptHandle: "rh-1"},
		{MessageId: "m-2", Body: `{"id":"j-2"}`, ReceiptHandle: "rh-2"},
	}}

	resp := handle(context.Background(), h, evt)

	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []worker.QueueMessage{
		{ID: "m-1", Body: `{"id":"j-1"}`},
		{ID: "m-2", Body: `{"id":"j-2"}`},
	}, h.handled)
}

func TestHandleReportsRecordsLeftAfterCancel(t *testing.T) {
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := handle(ctx, h, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m-1"}, {MessageId: "m-2"}}})

	assert.Empty(t, h.handled)
	assert.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "m-1"}, {ItemIdentifier: "m-2"}}, resp.BatchItemFailures)
}
