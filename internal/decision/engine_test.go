package decision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontosorriso/scheduling-agent/internal/fsm"
	"github.com/odontosorriso/scheduling-agent/internal/nlu"
)

func newEngine() *Engine {
	return NewEngine(nil)
}

func intent(i nlu.Intent) nlu.Output {
	return nlu.Output{Intent: i, Confidence: 1}
}

func TestGreeting(t *testing.T) {
	m := fsm.New("c")
	a := newEngine().Decide(m, intent(nlu.IntentGreeting))
	assert.Equal(t, ActionGreet, a.Type)
	assert.Equal(t, TemplateGreeting, a.TemplateKey)
	assert.False(t, a.RequiresTool)
	assert.False(t, a.HasNextState())
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
}

func TestProgressiveScheduling(t *testing.T) {
	e := newEngine()
	m := fsm.New("c")

	a := e.Decide(m, intent(nlu.IntentSchedule))
	assert.Equal(t, ActionAskProcedure, a.Type)
	assert.Equal(t, TemplateAskProcedure, a.TemplateKey)

	m.SetData(fsm.KeyProcedure, "Limpeza")
	a = e.Decide(m, intent(nlu.IntentSchedule))
	assert.Equal(t, ActionAskDate, a.Type)
	assert.Equal(t, Context{CtxProcedure: "Limpeza"}, a.Context())
	assert.Equal(t, fsm.StateInitiated, m.CurrentState, "no transition before a date")

	m.SetData(fsm.KeyDate, "2026-02-15")
	out := intent(nlu.IntentSchedule)
	out.Time = nlu.Str("14:00")
	a = e.Decide(m, out)
	assert.Equal(t, ActionConfirmAppointment, a.Type)
	assert.Equal(t, TemplateConfirmAppointment, a.TemplateKey)
	assert.Equal(t, Context{CtxProcedure: "Limpeza", CtxDate: "2026-02-15", CtxTime: "14:00"}, a.Context())
	assert.Equal(t, fsm.StateConfirmed, a.NextState)
	assert.False(t, a.RequiresTool)
	assert.Equal(t, fsm.StateTimeCollected, m.CurrentState)
	assert.Equal(t, []fsm.AppointmentState{fsm.StateInitiated, fsm.StateDateCollected}, m.History)
}

func TestAskTimeRequiresAvailabilityCheck(t *testing.T) {
	m := fsm.New("c")
	out := intent(nlu.IntentSchedule)
	out.Procedure = nlu.Str("Canal")
	out.Date = nlu.Str("2026-03-01")

	a := newEngine().Decide(m, out)
	assert.Equal(t, ActionAskTime, a.Type)
	assert.True(t, a.RequiresTool)
	assert.Equal(t, ToolCheckAvailability, a.ToolName)
	assert.Equal(t, Context{CtxProcedure: "Canal", CtxDate: "2026-03-01"}, a.Context())
	assert.Equal(t, fsm.StateDateCollected, m.CurrentState)
	require.NoError(t, a.Validate())
}

func TestFirstWriteWins(t *testing.T) {
	m := fsm.New("c")
	m.SetData(fsm.KeyDate, "2026-02-15")
	m.SetData(fsm.KeyProcedure, "Limpeza")

	out := intent(nlu.IntentSchedule)
	out.Date = nlu.Str("2026-02-20")
	out.Procedure = nlu.Str("Implante")
	newEngine().Decide(m, out)

	assert.Equal(t, "2026-02-15", m.DataOr(fsm.KeyDate, ""))
	assert.Equal(t, "Limpeza", m.DataOr(fsm.KeyProcedure, ""))
}

func TestMergeHappensForEveryIntent(t *testing.T) {
	m := fsm.New("c")
	out := intent(nlu.IntentGreeting)
	out.Procedure = nlu.Str("Clareamento")
	newEngine().Decide(m, out)
	assert.Equal(t, "Clareamento", m.DataOr(fsm.KeyProcedure, ""))
}

func TestBlankValueCountsAsMissing(t *testing.T) {
	m := fsm.New("c")
	m.SetData(fsm.KeyProcedure, "")
	out := intent(nlu.IntentSchedule)
	out.Procedure = nlu.Str("Canal")
	a := newEngine().Decide(m, out)
	assert.Equal(t, ActionAskDate, a.Type)
	assert.Equal(t, "Canal", m.DataOr(fsm.KeyProcedure, ""))
}

func TestRescheduleResetsThenSchedules(t *testing.T) {
	m := fsm.New("c")
	m.SetData(fsm.KeyProcedure, "Limpeza")
	m.SetData(fsm.KeyDate, "2026-02-15")
	require.NoError(t, m.Transition(fsm.StateDateCollected))

	out := intent(nlu.IntentReschedule)
	out.Date = nlu.Str("2026-02-20")
	a := newEngine().Decide(m, out)

	// The merge precedes the reset, so the reset discards this turn's date too.
	assert.Equal(t, ActionAskProcedure, a.Type)
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
	assert.Empty(t, m.CollectedData)
	assert.Equal(t, []fsm.AppointmentState{fsm.StateInitiated, fsm.StateDateCollected}, m.History)
}

func TestCancel(t *testing.T) {
	e := newEngine()
	m := fsm.New("c")

	a := e.Decide(m, intent(nlu.IntentCancel))
	assert.Equal(t, ActionAskConfirmationCode, a.Type)
	assert.Equal(t, TemplateAskConfirmationCode, a.TemplateKey)

	m.SetData(fsm.KeyConfirmationCode, "APPT-ABC123")
	a = e.Decide(m, intent(nlu.IntentCancel))
	assert.Equal(t, ActionCancelAppointment, a.Type)
	assert.Equal(t, TemplateCancelAppointment, a.TemplateKey)
	assert.True(t, a.RequiresTool)
	assert.Equal(t, ToolCancelAppointment, a.ToolName)
	assert.Equal(t, fsm.StateCanceled, a.NextState)
	assert.Equal(t, Context{CtxConfirmationCode: "APPT-ABC123"}, a.Context())
}

func TestCancelWithExtractedCode(t *testing.T) {
	m := fsm.New("c")
	out := intent(nlu.IntentCancel)
	out.ConfirmationCode = nlu.Str("APPT-0A1B2C3D")
	a := newEngine().Decide(m, out)
	assert.Equal(t, ActionCancelAppointment, a.Type)
	v, _ := a.Value(CtxConfirmationCode)
	assert.Equal(t, "APPT-0A1B2C3D", v)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		state    fsm.AppointmentState
		action   ActionType
		template string
		tool     string
		next     fsm.AppointmentState
	}{
		{fsm.StateTimeCollected, ActionCreateAppointment, TemplateAppointmentConfirmed, ToolCreateAppointment, fsm.StateScheduled},
		{fsm.StateConfirmed, ActionAppointmentConfirmed, TemplateAppointmentAlreadyConfirmed, "", ""},
		{fsm.StateInitiated, ActionClarify, TemplateClarifyConfirm, "", ""},
		{fsm.StateDateCollected, ActionClarify, TemplateClarifyConfirm, "", ""},
		{fsm.StateScheduled, ActionClarify, TemplateClarifyConfirm, "", ""},
		{fsm.StateCanceled, ActionClarify, TemplateClarifyConfirm, "", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			m := fsm.New("c")
			m.CurrentState = tt.state
			m.SetData(fsm.KeyProcedure, "Limpeza")
			m.SetData(fsm.KeyDate, "2026-02-15")
			m.SetData(fsm.KeyTime, "10:00")

			a := newEngine().Decide(m, intent(nlu.IntentConfirm))
			assert.Equal(t, tt.action, a.Type)
			assert.Equal(t, tt.template, a.TemplateKey)
			assert.Equal(t, tt.tool, a.ToolName)
			assert.Equal(t, tt.tool != "", a.RequiresTool)
			assert.Equal(t, tt.next, a.NextState)
			assert.Equal(t, tt.state, m.CurrentState, "confirm never moves the machine itself")
		})
	}
}

func TestConfirmCarriesAppointmentDetails(t *testing.T) {
	m := fsm.New("c")
	m.CurrentState = fsm.StateTimeCollected
	m.SetData(fsm.KeyProcedure, "Implante")
	m.SetData(fsm.KeyDate, "2026-04-01")
	m.SetData(fsm.KeyTime, "15:00")
	a := newEngine().Decide(m, intent(nlu.IntentConfirm))
	assert.Equal(t, Context{CtxProcedure: "Implante", CtxDate: "2026-04-01", CtxTime: "15:00"}, a.Context())
	require.NoError(t, a.Validate())
}

func TestDenyResets(t *testing.T) {
	m := fsm.New("c")
	m.CurrentState = fsm.StateDateCollected
	m.SetData(fsm.KeyProcedure, "Limpeza")

	a := newEngine().Decide(m, intent(nlu.IntentDeny))
	assert.Equal(t, ActionGreet, a.Type)
	assert.Equal(t, TemplateDeniedRestart, a.TemplateKey)
	assert.Equal(t, fsm.StateInitiated, m.CurrentState)
	assert.Empty(t, m.CollectedData)
}

func TestFAQ(t *testing.T) {
	out := intent(nlu.IntentFAQ)
	out.Procedure = nlu.Str("Clareamento")
	a := newEngine().Decide(fsm.New("c"), out)
	assert.Equal(t, ActionAnswerFAQ, a.Type)
	assert.Equal(t, TemplateFAQResponse, a.TemplateKey)
	v, ok := a.Value(CtxProcedure)
	assert.True(t, ok)
	assert.Equal(t, "Clareamento", v)

	a = newEngine().Decide(fsm.New("c"), intent(nlu.IntentFAQ))
	_, ok = a.Value(CtxProcedure)
	assert.False(t, ok)
}

func TestUnknownIntentClarifies(t *testing.T) {
	for _, i := range []nlu.Intent{nlu.IntentUnknown, nlu.Intent("gibberish"), ""} {
		a := newEngine().Decide(fsm.New("c"), intent(i))
		assert.Equal(t, ActionClarify, a.Type)
		assert.Equal(t, TemplateClarify, a.TemplateKey)
		assert.Empty(t, a.Context())
	}
}

func TestDeterminism(t *testing.T) {
	base := fsm.New("c")
	base.SetData(fsm.KeyProcedure, "Canal")
	require.NoError(t, base.Transition(fsm.StateDateCollected))
	outputs := []nlu.Output{intent(nlu.IntentGreeting), intent(nlu.IntentSchedule), intent(nlu.IntentConfirm), intent(nlu.IntentCancel), intent(nlu.IntentDeny), intent(nlu.IntentFAQ)}
	withDate := intent(nlu.IntentSchedule)
	withDate.Date = nlu.Str("2026-05-05")
	outputs = append(outputs, withDate)

	e := newEngine()
	for _, out := range outputs {
		first := base.Clone()
		want := e.Decide(first, out)
		for i := 0; i < 5; i++ {
			m := base.Clone()
			got := e.Decide(m, out)
			assert.Equal(t, want, got)
			assert.Equal(t, first, m)
		}
	}
}

func TestNeverTriggersInvalidTransition(t *testing.T) {
	e := newEngine()
	for _, s := range fsm.AllStates {
		for _, i := range nlu.Intents {
			m := fsm.New("c")
			m.CurrentState = s
			m.SetData(fsm.KeyProcedure, "Limpeza")
			m.SetData(fsm.KeyDate, "2026-02-15")
			before := len(m.History)
			a := e.Decide(m, intent(i))
			require.NotEmpty(t, a.Type)
			assert.True(t, m.CurrentState.Valid())
			assert.GreaterOrEqual(t, len(m.History), before)
		}
	}
}

type countingRecorder struct{ got []string }

func (c *countingRecorder) ObserveDecision(intent, action string) {
	c.got = append(c.got, intent+"->"+action)
}

func TestRecorderObservesDecisions(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEngine(nil, WithRecorder(rec))
	e.Decide(fsm.New("c"), intent(nlu.IntentGreeting))
	assert.Equal(t, []string{"greeting->greet"}, rec.got)
}

func TestActionWithToolResultIsCopy(t *testing.T) {
	m := fsm.New("c")
	m.SetData(fsm.KeyProcedure, "Canal")
	m.SetData(fsm.KeyDate, "2026-03-01")
	a := newEngine().Decide(m, intent(nlu.IntentSchedule))

	merged := a.WithToolResult(map[string]string{CtxAvailableSlots: "09:00,10:00"})
	_, ok := a.Value(CtxAvailableSlots)
	assert.False(t, ok)
	v, _ := merged.Value(CtxAvailableSlots)
	assert.Equal(t, "09:00,10:00", v)

	ctx := merged.Context()
	ctx[CtxDate] = "tampered"
	v, _ = merged.Value(CtxDate)
	assert.Equal(t, "2026-03-01", v)
}

func TestValidateReportsMissingKeys(t *testing.T) {
	a := newAction(ActionConfirmAppointment, TemplateConfirmAppointment, Context{CtxProcedure: "Canal"})
	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[date time]")

	assert.Error(t, newAction(ActionClarify, "nope", nil).Validate())
	assert.Error(t, newAction(ActionCancelAppointment, TemplateClarify, nil).withTool("").Validate())
}

func TestActionJSON(t *testing.T) {
	m := fsm.New("c")
	m.SetData(fsm.KeyConfirmationCode, "APPT-ABC123")
	a := newEngine().Decide(m, intent(nlu.IntentCancel))

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"action_type": "cancel_appointment",
		"template_key": "cancel_appointment",
		"context": {"confirmation_code": "APPT-ABC123"},
		"requires_tool": true,
		"tool_name": "cancel_appointment",
		"next_state": "canceled"
	}`, string(raw))

	raw, err = json.Marshal(newEngine().Decide(fsm.New("c"), intent(nlu.IntentGreeting)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action_type":"greet","template_key":"greeting","context":{},"requires_tool":false,"tool_name":null,"next_state":null}`, string(raw))
}
