package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odontosorriso/scheduling-agent/cmd/mainconfig"
	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	"github.com/odontosorriso/scheduling-agent/internal/observability/metrics"
	"github.com/odontosorriso/scheduling-agent/internal/worker"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type messageHandler interface {
	HandleMessage(ctx context.Context, qm worker.QueueMessage)
}

func main() {
	cfg := appconfig.Load()
	cfg.UseMemoryQueue = false
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger, awsConfig, metrics.NewSchedulingMetrics(prometheus.NewRegistry()))
	if err != nil {
		logger.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	queue, err := bootstrap.BuildQueue(rt)
	if err != nil {
		logger.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	sender, err := bootstrap.BuildSender(rt)
	if err != nil {
		logger.Error("failed to initialize whatsapp sender", "error", err)
		os.Exit(1)
	}
	agent, err := bootstrap.BuildAgent(ctx, rt)
	if err != nil {
		logger.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	w := bootstrap.BuildWorker(rt, agent, queue, sender, bootstrap.BuildDeadLetters(rt))
	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, w, evt), nil
	})
}

// handle processes every record in the batch. Failures are dead-lettered by
// the worker, so records are never reported back to SQS for redelivery;
// only a canceled invocation leaves the remaining records in the queue.
func handle(ctx context.Context, h messageHandler, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if ctx.Err() != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		h.HandleMessage(ctx, worker.QueueMessage{ID: record.MessageId, Body: record.Body})
	}
	return resp
}
