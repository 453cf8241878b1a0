package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/odontosorriso/scheduling-agent/internal/deadletter"
	"github.com/odontosorriso/scheduling-agent/internal/notify"
	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/internal/worker"
)

// BuildSender returns the configured WhatsApp transport.
func BuildSender(rt *Runtime) (whatsapp.Sender, error) {
	cfg := rt.Config
	return whatsapp.BuildSender(whatsapp.SenderConfig{
		Provider:          cfg.WhatsAppProvider,
		EvolutionAPIURL:   cfg.EvolutionAPIURL,
		EvolutionAPIKey:   cfg.EvolutionAPIKey,
		EvolutionInstance: cfg.EvolutionInstance,
		TwilioAccountSID:  cfg.TwilioAccountSID,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		TwilioFromNumber:  cfg.TwilioFromNumber,
	}, rt.Logger)
}

// BuildNotifier wires the clinic email notifier. Provider "none" or a
// missing recipient yields a notifier that does nothing.
func BuildNotifier(rt *Runtime) (*notify.AppointmentNotifier, error) {
	cfg := rt.Config
	var sender notify.EmailSender
	switch cfg.NotifyEmailProvider {
	case "sendgrid":
		sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, rt.Logger)
		if sg == nil {
			rt.Logger.Warn("sendgrid selected without SENDGRID_API_KEY; clinic emails disabled")
			break
		}
		sender = sg
	case "ses":
		sender = notify.NewSESSender(sesv2.NewFromConfig(rt.AWS), notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, rt.Logger)
	case "stub":
		sender = notify.NewStubEmailSender(rt.Logger)
	case "", "none":
	default:
		return nil, fmt.Errorf("bootstrap: unknown NOTIFY_EMAIL_PROVIDER %q", cfg.NotifyEmailProvider)
	}
	return notify.NewAppointmentNotifier(sender, cfg.ClinicNotifyEmail, cfg.NotifyFromName, rt.Logger), nil
}

// DeadLetters exposes the fan-out queue and the table it can be replayed
// from. Table is nil without DATABASE_URL.
type DeadLetters struct {
	Queue *deadletter.Queue
	Table *deadletter.PostgresSink
}

// BuildDeadLetters writes to Postgres and, when a bucket is configured, to S3.
func BuildDeadLetters(rt *Runtime) DeadLetters {
	var out DeadLetters
	var sinks []deadletter.Sink
	if rt.Pool != nil {
		out.Table = deadletter.NewPostgresSink(rt.Pool)
		sinks = append(sinks, out.Table)
	}
	if bucket := strings.TrimSpace(rt.Config.DLQArchiveBucket); bucket != "" {
		client := s3.NewFromConfig(rt.AWS, func(o *s3.Options) {
			if rt.Config.AWSEndpointOverride != "" {
				o.UsePathStyle = true
			}
		})
		sinks = append(sinks, deadletter.NewS3Sink(client, bucket))
	}
	if len(sinks) == 0 {
		rt.Logger.Warn("no dead-letter sink configured; failed messages are only logged")
	}
	out.Queue = deadletter.NewQueue(rt.Logger, sinks...)
	return out
}

// BuildQueue returns an in-process queue when USE_MEMORY_QUEUE is set and
// SQS otherwise.
func BuildQueue(rt *Runtime) (worker.Queue, error) {
	if rt.Config.UseMemoryQueue {
		return worker.NewMemoryQueue(1024), nil
	}
	if rt.Config.ConversationQueueURL == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL required when USE_MEMORY_QUEUE=false")
	}
	return worker.NewSQSQueue(sqs.NewFromConfig(rt.AWS), rt.Config.ConversationQueueURL), nil
}

// BuildWorker assembles a consumer over queue.
func BuildWorker(rt *Runtime, a *Agent, queue worker.Queue, sender whatsapp.Sender, dlq DeadLetters) *worker.Worker {
	opts := []worker.Option{
		worker.WithWorkerCount(rt.Config.WorkerCount),
		worker.WithProcessTimeout(rt.Config.ProcessTimeout),
		worker.WithDeadLetter(dlq.Queue),
		worker.WithOutboundRecorder(rt.Metrics),
	}
	if store := BuildIdempotencyStore(rt); store != nil {
		opts = append(opts, worker.WithProcessedMarker(store))
	}
	return worker.NewWorker(a.Processor, queue, sender, rt.Logger, opts...)
}

// StartReplayer resends dead-lettered deliveries in the background. It does
// nothing without the Postgres table.
func StartReplayer(ctx context.Context, rt *Runtime, dlq DeadLetters, sender whatsapp.Sender) {
	if dlq.Table == nil || rt.Config.DLQReplayInterval <= 0 {
		return
	}
	replayer := worker.NewReplayer(dlq.Table, sender, rt.Logger).WithInterval(rt.Config.DLQReplayInterval)
	go replayer.Run(ctx)
}
