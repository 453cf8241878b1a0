package bootstrap

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"

	"github.com/odontosorriso/scheduling-agent/internal/agent"
	"github.com/odontosorriso/scheduling-agent/internal/appointments"
	"github.com/odontosorriso/scheduling-agent/internal/calendar"
	"github.com/odontosorriso/scheduling-agent/internal/conversation"
	"github.com/odontosorriso/scheduling-agent/internal/customers"
	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/nlg"
	"github.com/odontosorriso/scheduling-agent/internal/nlu"
	"github.com/odontosorriso/scheduling-agent/internal/tools"
)

// Agent bundles the processor with the pieces other components reuse.
type Agent struct {
	Processor *agent.Processor
	State     *conversation.Manager
	Engine    *decision.Engine
}

// ClinicLocation resolves the clinic timezone, falling back to UTC.
func ClinicLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BuildAgent assembles the full message pipeline. DATABASE_URL is required;
// the calendar and LLM are optional.
func BuildAgent(ctx context.Context, rt *Runtime) (*Agent, error) {
	if rt.Pool == nil || rt.SQL == nil {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	cfg := rt.Config

	state, err := BuildStateManager(rt)
	if err != nil {
		return nil, err
	}

	custs := customers.NewRepository(rt.SQL, rt.Logger)
	appts := appointments.NewRepository(rt.Pool)

	dispatchOpts := []tools.Option{
		tools.WithSlots(cfg.AvailableSlots),
		tools.WithDuration(cfg.AppointmentDuration),
		tools.WithLocation(rt.Location),
		tools.WithRecorder(rt.Metrics),
	}
	if cal, err := buildCalendar(ctx, rt); err != nil {
		return nil, err
	} else if cal != nil {
		dispatchOpts = append(dispatchOpts, tools.WithCalendar(cal))
	}
	dispatcher := tools.NewDispatcher(appts, custs, rt.Logger, dispatchOpts...)

	client, err := BuildLLMClient(ctx, rt)
	if err != nil {
		return nil, err
	}
	var extractor agent.Extractor = offlineExtractor{}
	if client != nil {
		extractor = nlu.NewExtractor(client, cfg.NLUModel, rt.Logger, nlu.WithLocation(rt.Location))
	}
	knowledge, err := nlg.LoadKnowledge(cfg.KnowledgeBasePath)
	if err != nil {
		rt.Logger.Warn("knowledge base unavailable", "path", cfg.KnowledgeBasePath, "error", err)
	} else if knowledge == "" {
		rt.Logger.Warn("knowledge base not found", "path", cfg.KnowledgeBasePath)
	}
	generator := nlg.NewGenerator(client, cfg.NLGModel, rt.Logger, nlg.WithKnowledge(knowledge))
	engine := decision.NewEngine(rt.Logger, decision.WithRecorder(rt.Metrics))

	notifier, err := BuildNotifier(rt)
	if err != nil {
		return nil, err
	}

	processor := agent.NewProcessor(custs, state, extractor, engine, dispatcher, generator, rt.Logger,
		agent.WithNotifier(notifier),
		agent.WithRecorder(rt.Metrics),
	)
	return &Agent{Processor: processor, State: state, Engine: engine}, nil
}

func buildCalendar(ctx context.Context, rt *Runtime) (calendar.Calendar, error) {
	cfg := rt.Config
	if cfg.GoogleCalendarID == "" {
		rt.Logger.Info("google calendar disabled; availability uses the appointments table only")
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.GoogleCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}
	cal, err := calendar.NewGoogleCalendar(ctx, cfg.GoogleCalendarID, rt.Location, rt.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
	}
	return cal, nil
}

// offlineExtractor stands in when no LLM is configured.
type offlineExtractor struct{}

func (offlineExtractor) Extract(context.Context, string, string) nlu.Output {
	return nlu.Unknown()
}
