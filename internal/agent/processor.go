// Package agent runs one inbound WhatsApp message through understanding,
// decision, tool execution and reply generation.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/odontosorriso/scheduling-agent/internal/conversation"
	"github.com/odontosorriso/scheduling-agent/internal/customers"
	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/fsm"
	"github.com/odontosorriso/scheduling-agent/internal/nlg"
	"github.com/odontosorriso/scheduling-agent/internal/nlu"
	"github.com/odontosorriso/scheduling-agent/internal/notify"
	"github.com/odontosorriso/scheduling-agent/internal/tools"
	"github.com/odontosorriso/scheduling-agent/internal/whatsapp"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

var tracer = otel.Tracer("odontosorriso.internal.agent")

// persistTimeout bounds the final state save and outgoing log, which run
// detached from the caller's deadline once a reply exists.
const persistTimeout = 5 * time.Second

// Response is the outcome of processing one message.
type Response struct {
	TraceID       string            `json:"trace_id"`
	Intent        nlu.Intent        `json:"intent"`
	Reply         string            `json:"reply_text"`
	Confidence    float64           `json:"confidence"`
	AppointmentID string            `json:"appointment_id,omitempty"`
	ExtractedData map[string]string `json:"extracted_data"`
	ActionType    string            `json:"action_type"`
	State         string            `json:"state"`
	// ToolError is set when a tool failed for infrastructure reasons. The
	// reply is still a usable apology.
	ToolError string `json:"tool_error,omitempty"`
}

type CustomerStore interface {
	GetOrCreate(ctx context.Context, phone string) (*customers.Customer, error)
	SaveMessage(ctx context.Context, msg customers.Message) error
}

type StateManager interface {
	GetOrCreate(ctx context.Context, phone string) *fsm.StateMachine
	Save(ctx context.Context, phone string, machine *fsm.StateMachine)
}

type Extractor interface {
	Extract(ctx context.Context, message, contextPrompt string) nlu.Output
}

type Decider interface {
	Decide(m *fsm.StateMachine, out nlu.Output) decision.Action
}

type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, c decision.Context, customerPhone string) (tools.Result, error)
}

type ReplyGenerator interface {
	Generate(ctx context.Context, a decision.Action) nlg.Reply
}

type Notifier interface {
	AppointmentCreated(ctx context.Context, evt notify.AppointmentEvent) error
	AppointmentCanceled(ctx context.Context, evt notify.AppointmentEvent) error
}

// Recorder observes pipeline latency by outcome.
type Recorder interface {
	ObservePipeline(outcome string, elapsed time.Duration)
}

// Processor wires the pipeline stages together.
type Processor struct {
	customers CustomerStore
	state     StateManager
	extractor Extractor
	decider   Decider
	tools     ToolExecutor
	replies   ReplyGenerator
	notifier  Notifier
	recorder  Recorder
	logger    *logging.Logger
}

type Option func(*Processor)

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

func NewProcessor(custs CustomerStore, state StateManager, extractor Extractor, decider Decider, toolExec ToolExecutor, replies ReplyGenerator, logger *logging.Logger, opts ...Option) *Processor {
	if state == nil || extractor == nil || decider == nil || toolExec == nil || replies == nil {
		panic("agent: state, extractor, decider, tools and replies are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		customers: custs,
		state:     state,
		extractor: extractor,
		decider:   decider,
		tools:     toolExec,
		replies:   replies,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one validated message. Collaborator failures degrade the
// reply instead of failing the call; an error is only returned when ctx is
// done before a reply exists.
func (p *Processor) Process(ctx context.Context, msg whatsapp.Message) (Response, error) {
	start := time.Now()
	traceID := uuid.NewString()
	phone := msg.FromNumber
	log := p.logger.WithPhone(phone).With("trace_id", traceID, "message_id", msg.MessageID)

	ctx, span := tracer.Start(ctx, "agent.process")
	defer span.End()
	span.SetAttributes(attribute.String("trace_id", traceID), attribute.String("message_id", msg.MessageID))

	log.Info("process message start")

	customerID := p.ensureCustomer(ctx, phone, log)
	p.logMessage(ctx, log, customers.Message{
		MessageID:  msg.MessageID,
		CustomerID: customerID,
		Direction:  customers.DirectionIncoming,
		Body:       msg.Body,
		TraceID:    traceID,
	})

	machine := p.state.GetOrCreate(ctx, phone)
	contextPrompt := conversation.BuildContextPrompt(machine)

	out := p.extractor.Extract(ctx, msg.Body, contextPrompt)
	if out.Procedure == nil {
		if proc := nlu.DetectProcedure(msg.Body); proc != "" {
			out.Procedure = &proc
		}
	}
	if err := ctx.Err(); err != nil {
		p.observe("canceled", start)
		return Response{}, err
	}

	action := p.decider.Decide(machine, out)
	resp := Response{TraceID: traceID, Intent: out.Intent, Confidence: out.Confidence}

	if action.RequiresTool {
		action = p.runTool(ctx, log, machine, action, phone, &resp)
	}

	if err := action.Validate(); err != nil {
		log.Warn("action context incomplete", "action", action.Type, "template", action.TemplateKey, "error", err)
	}

	reply := p.replies.Generate(ctx, action)
	resp.Reply = reply.Message
	if strings.TrimSpace(resp.Reply) == "" {
		resp.Reply = nlg.FallbackMessage
	}

	// A booking may already be committed; the conversation must record it even
	// when the caller's deadline has passed.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	p.state.Save(persistCtx, phone, machine)

	p.logMessage(persistCtx, log, customers.Message{
		MessageID:  outgoingMessageID(),
		CustomerID: customerID,
		Direction:  customers.DirectionOutgoing,
		Body:       resp.Reply,
		Intent:     string(out.Intent),
		TraceID:    traceID,
	})

	resp.ActionType = string(action.Type)
	resp.State = machine.CurrentState.String()
	resp.ExtractedData = make(map[string]string, len(machine.CollectedData))
	for k, v := range machine.CollectedData {
		resp.ExtractedData[k] = v
	}

	outcome := "success"
	if resp.ToolError != "" {
		outcome = "tool_error"
	}
	p.observe(outcome, start)
	span.SetAttributes(attribute.String("intent", string(out.Intent)), attribute.String("action", resp.ActionType))

	log.Info("process message complete",
		"intent", out.Intent,
		"action", resp.ActionType,
		"state", resp.State,
		"reply_source", reply.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// runTool executes the action's tool and applies its outcome to the
// machine. The action's target state is only entered after the tool
// succeeds.
func (p *Processor) runTool(ctx context.Context, log *logging.Logger, machine *fsm.StateMachine, action decision.Action, phone string, resp *Response) decision.Action {
	result, err := p.tools.Execute(ctx, action.ToolName, action.Context(), phone)
	if err != nil {
		resp.ToolError = err.Error()
		return action.WithTemplate(decision.ActionError, decision.TemplateToolFailed)
	}
	action = action.WithToolResult(result)
	if !tools.Succeeded(result) {
		if action.ToolName == decision.ToolCreateAppointment {
			// The slot was taken meanwhile; ask for another time.
			machine.DeleteData(fsm.KeyTime)
			if machine.CanTransitionTo(fsm.StateDateCollected) {
				_ = machine.Transition(fsm.StateDateCollected)
			}
		}
		return action.WithTemplate(decision.ActionError, decision.TemplateToolFailed)
	}

	switch action.ToolName {
	case decision.ToolCheckAvailability:
		if result[tools.KeyError] != "" || result[tools.KeyAvailable] != "true" {
			// Let the customer choose another day.
			machine.DeleteData(fsm.KeyDate)
			if machine.CanTransitionTo(fsm.StateInitiated) {
				_ = machine.Transition(fsm.StateInitiated)
			}
		}
	case decision.ToolCreateAppointment:
		machine.SetData(fsm.KeyConfirmationCode, result[tools.KeyConfirmationCode])
		resp.AppointmentID = result[tools.KeyAppointmentID]
		p.notifyCreated(ctx, log, phone, result)
	case decision.ToolCancelAppointment:
		resp.AppointmentID = result[tools.KeyAppointmentID]
		p.notifyCanceled(ctx, log, phone, result)
	}

	if action.HasNextState() {
		applyNextState(log, machine, action.NextState)
	}
	return action
}

// applyNextState enters target when the transition table allows it. A booking
// made from TIME_COLLECTED passes through CONFIRMED on its way to SCHEDULED.
func applyNextState(log *logging.Logger, machine *fsm.StateMachine, target fsm.AppointmentState) {
	if machine.CurrentState == target {
		return
	}
	if target == fsm.StateScheduled && machine.CurrentState == fsm.StateTimeCollected {
		_ = machine.Transition(fsm.StateConfirmed)
	}
	res := machine.TryTransition(target)
	if !res.Applied {
		log.Warn("state transition skipped", "from", res.From, "to", res.To, "error", res.Err)
	}
}

func (p *Processor) ensureCustomer(ctx context.Context, phone string, log *logging.Logger) uuid.UUID {
	if p.customers == nil {
		return uuid.Nil
	}
	c, err := p.customers.GetOrCreate(ctx, phone)
	if err != nil {
		log.Error("customer lookup failed", "error", err)
		return uuid.Nil
	}
	return c.ID
}

func (p *Processor) logMessage(ctx context.Context, log *logging.Logger, msg customers.Message) {
	if p.customers == nil || msg.CustomerID == uuid.Nil {
		return
	}
	if err := p.customers.SaveMessage(ctx, msg); err != nil {
		log.Error("message log failed", "direction", msg.Direction, "error", err)
	}
}

func (p *Processor) notifyCreated(ctx context.Context, log *logging.Logger, phone string, result tools.Result) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.AppointmentCreated(ctx, notify.AppointmentEvent{
		AppointmentID:    result[tools.KeyAppointmentID],
		ConfirmationCode: result[tools.KeyConfirmationCode],
		CustomerPhone:    phone,
		Procedure:        result[tools.KeyProcedure],
		Date:             result[tools.KeyDate],
		Time:             result[tools.KeyTime],
		OccurredAt:       time.Now(),
	})
	if err != nil {
		log.Warn("clinic notification failed", "error", err)
	}
}

func (p *Processor) notifyCanceled(ctx context.Context, log *logging.Logger, phone string, result tools.Result) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.AppointmentCanceled(ctx, notify.AppointmentEvent{
		AppointmentID:    result[tools.KeyAppointmentID],
		ConfirmationCode: result[tools.KeyConfirmationCode],
		CustomerPhone:    phone,
		Date:             result[tools.KeyDate],
		Time:             result[tools.KeyTime],
		OccurredAt:       time.Now(),
	})
	if err != nil {
		log.Warn("clinic notification failed", "error", err)
	}
}

func (p *Processor) observe(outcome string, start time.Time) {
	if p.recorder != nil {
		p.recorder.ObservePipeline(outcome, time.Since(start))
	}
}

// outgoingMessageID returns MSG- followed by 16 uppercase hex digits.
func outgoingMessageID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "MSG-" + strings.ToUpper(id[:16])
}
