// Package decision maps the dialogue state and the extracted intent onto the
// next conversational action. It performs no I/O.
package decision

import (
	"github.com/odontosorriso/scheduling-agent/internal/fsm"
	"github.com/odontosorriso/scheduling-agent/internal/nlu"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Recorder receives one observation per decision.
type Recorder interface {
	ObserveDecision(intent, action string)
}

// Engine is deterministic: the same machine snapshot and extraction always
// produce the same Action and the same data merge.
type Engine struct {
	logger   *logging.Logger
	recorder Recorder
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRecorder attaches a decision metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func NewEngine(logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide merges newly extracted entities into m (first write wins) and
// returns the next action. Any transition it performs is guarded by
// CanTransitionTo.
func (e *Engine) Decide(m *fsm.StateMachine, out nlu.Output) Action {
	e.logger.Debug("decision requested",
		"state", m.CurrentState,
		"intent", out.Intent,
		"has_procedure", out.Procedure != nil,
		"has_date", out.Date != nil,
		"has_time", out.Time != nil,
	)

	e.merge(m, out)

	var action Action
	switch out.Intent {
	case nlu.IntentGreeting:
		action = newAction(ActionGreet, TemplateGreeting, nil)
	case nlu.IntentSchedule:
		action = e.schedule(m)
	case nlu.IntentReschedule:
		m.Reset()
		action = e.schedule(m)
	case nlu.IntentCancel:
		action = cancel(m)
	case nlu.IntentConfirm:
		action = confirm(m)
	case nlu.IntentDeny:
		m.Reset()
		action = newAction(ActionGreet, TemplateDeniedRestart, nil)
	case nlu.IntentFAQ:
		ctx := Context{}
		if out.Procedure != nil {
			ctx[CtxProcedure] = *out.Procedure
		}
		action = newAction(ActionAnswerFAQ, TemplateFAQResponse, ctx)
	default:
		action = newAction(ActionClarify, TemplateClarify, nil)
	}

	e.logger.Info("decision made",
		"intent", out.Intent,
		"action", action.Type,
		"template", action.TemplateKey,
		"tool", action.ToolName,
		"state", m.CurrentState,
	)
	if e.recorder != nil {
		e.recorder.ObserveDecision(string(out.Intent), string(action.Type))
	}
	return action
}

func (e *Engine) merge(m *fsm.StateMachine, out nlu.Output) {
	mergeOne := func(key string, v *string) {
		if v == nil || *v == "" || present(m, key) {
			return
		}
		m.SetData(key, *v)
		e.logger.Debug("collected data updated", "key", key)
	}
	mergeOne(fsm.KeyProcedure, out.Procedure)
	mergeOne(fsm.KeyDate, out.Date)
	mergeOne(fsm.KeyTime, out.Time)
	mergeOne(fsm.KeyConfirmationCode, out.ConfirmationCode)
}

func (e *Engine) schedule(m *fsm.StateMachine) Action {
	procedure := m.DataOr(fsm.KeyProcedure, "")
	date := m.DataOr(fsm.KeyDate, "")
	tm := m.DataOr(fsm.KeyTime, "")

	if procedure == "" {
		return newAction(ActionAskProcedure, TemplateAskProcedure, nil)
	}
	if date == "" {
		return newAction(ActionAskDate, TemplateAskDate, Context{CtxProcedure: procedure})
	}

	if m.CurrentState == fsm.StateInitiated && m.CanTransitionTo(fsm.StateDateCollected) {
		_ = m.Transition(fsm.StateDateCollected)
	}

	if tm == "" {
		return newAction(ActionAskTime, TemplateAskTime, Context{
			CtxProcedure: procedure,
			CtxDate:      date,
		}).withTool(ToolCheckAvailability)
	}

	if m.CurrentState == fsm.StateDateCollected && m.CanTransitionTo(fsm.StateTimeCollected) {
		_ = m.Transition(fsm.StateTimeCollected)
	}

	return newAction(ActionConfirmAppointment, TemplateConfirmAppointment, Context{
		CtxProcedure: procedure,
		CtxDate:      date,
		CtxTime:      tm,
	}).withNextState(fsm.StateConfirmed)
}

func cancel(m *fsm.StateMachine) Action {
	code := m.DataOr(fsm.KeyConfirmationCode, "")
	if code == "" {
		return newAction(ActionAskConfirmationCode, TemplateAskConfirmationCode, nil)
	}
	return newAction(ActionCancelAppointment, TemplateCancelAppointment, Context{
		CtxConfirmationCode: code,
	}).withTool(ToolCancelAppointment).withNextState(fsm.StateCanceled)
}

func confirm(m *fsm.StateMachine) Action {
	switch m.CurrentState {
	case fsm.StateTimeCollected:
		return newAction(ActionCreateAppointment, TemplateAppointmentConfirmed, Context{
			CtxProcedure: m.DataOr(fsm.KeyProcedure, ""),
			CtxDate:      m.DataOr(fsm.KeyDate, ""),
			CtxTime:      m.DataOr(fsm.KeyTime, ""),
		}).withTool(ToolCreateAppointment).withNextState(fsm.StateScheduled)
	case fsm.StateConfirmed:
		return newAction(ActionAppointmentConfirmed, TemplateAppointmentAlreadyConfirmed, nil)
	default:
		return newAction(ActionClarify, TemplateClarifyConfirm, nil)
	}
}

// present treats empty values as missing.
func present(m *fsm.StateMachine, key string) bool {
	v, ok := m.GetData(key)
	return ok && v != ""
}
