package decision

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/odontosorriso/scheduling-agent/internal/fsm"
)

// ActionType is what the assistant does next.
type ActionType string

const (
	ActionGreet                ActionType = "greet"
	ActionAskProcedure         ActionType = "ask_procedure"
	ActionAskDate              ActionType = "ask_date"
	ActionAskTime              ActionType = "ask_time"
	ActionConfirmAppointment   ActionType = "confirm_appointment"
	ActionAppointmentConfirmed ActionType = "appointment_confirmed"
	ActionAskConfirmationCode  ActionType = "ask_confirmation_code"
	ActionAppointmentCanceled  ActionType = "appointment_canceled"
	ActionAnswerFAQ            ActionType = "answer_faq"
	ActionClarify              ActionType = "clarify"
	ActionError                ActionType = "error"

	// Tool-backed actions.
	ActionCheckAvailability ActionType = "check_availability"
	ActionCreateAppointment ActionType = "create_appointment"
	ActionCancelAppointment ActionType = "cancel_appointment"
)

// Tool names understood by the dispatch layer.
const (
	ToolCheckAvailability = "check_availability"
	ToolCreateAppointment = "create_appointment"
	ToolCancelAppointment = "cancel_appointment"
)

// Template keys selecting the reply shape.
const (
	TemplateGreeting                    = "greeting"
	TemplateDeniedRestart               = "denied_restart"
	TemplateAskProcedure                = "ask_procedure"
	TemplateAskDate                     = "ask_date"
	TemplateAskTime                     = "ask_time"
	TemplateConfirmAppointment          = "confirm_appointment"
	TemplateAppointmentConfirmed        = "appointment_confirmed"
	TemplateAppointmentAlreadyConfirmed = "appointment_already_confirmed"
	TemplateAskConfirmationCode         = "ask_confirmation_code"
	TemplateCancelAppointment           = "cancel_appointment"
	TemplateFAQResponse                 = "faq_response"
	TemplateClarify                     = "clarify"
	TemplateClarifyConfirm              = "clarify_confirm"
	TemplateToolFailed                  = "tool_failed"
)

// Context keys shared with templates, tools and the reply generator.
const (
	CtxProcedure        = fsm.KeyProcedure
	CtxDate             = fsm.KeyDate
	CtxTime             = fsm.KeyTime
	CtxConfirmationCode = fsm.KeyConfirmationCode
	CtxAvailableSlots   = "available_slots"
	CtxAppointmentID    = "appointment_id"
	CtxError            = "error"
)

// TemplateSchema lists the context keys each template requires.
var TemplateSchema = map[string][]string{
	TemplateGreeting:                    nil,
	TemplateDeniedRestart:               nil,
	TemplateAskProcedure:                nil,
	TemplateAskDate:                     {CtxProcedure},
	TemplateAskTime:                     {CtxProcedure, CtxDate},
	TemplateConfirmAppointment:          {CtxProcedure, CtxDate, CtxTime},
	TemplateAppointmentConfirmed:        {CtxProcedure, CtxDate, CtxTime},
	TemplateAppointmentAlreadyConfirmed: nil,
	TemplateAskConfirmationCode:         nil,
	TemplateCancelAppointment:           {CtxConfirmationCode},
	TemplateFAQResponse:                 nil,
	TemplateClarify:                     nil,
	TemplateClarifyConfirm:              nil,
	TemplateToolFailed:                  nil,
}

// Context is the string-keyed data carried by an Action.
type Context map[string]string

func (c Context) clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Action describes the next conversational move. Values are immutable:
// WithToolResult returns a new Action rather than mutating the receiver.
type Action struct {
	Type         ActionType
	TemplateKey  string
	RequiresTool bool
	ToolName     string
	// NextState is empty when the action does not move the dialogue.
	NextState fsm.AppointmentState

	ctx Context
}

func newAction(t ActionType, template string, ctx Context) Action {
	if ctx == nil {
		ctx = Context{}
	}
	return Action{Type: t, TemplateKey: template, ctx: ctx}
}

func (a Action) withTool(name string) Action {
	a.RequiresTool = true
	a.ToolName = name
	return a
}

func (a Action) withNextState(s fsm.AppointmentState) Action {
	a.NextState = s
	return a
}

// Context returns a copy of the action context.
func (a Action) Context() Context {
	return a.ctx.clone()
}

// Value returns one context entry.
func (a Action) Value(key string) (string, bool) {
	v, ok := a.ctx[key]
	return v, ok
}

// HasNextState reports whether the action carries a target state.
func (a Action) HasNextState() bool {
	return a.NextState != ""
}

// WithToolResult returns a copy with result merged over the context.
func (a Action) WithToolResult(result map[string]string) Action {
	merged := a.ctx.clone()
	for k, v := range result {
		merged[k] = v
	}
	a.ctx = merged
	return a
}

// WithTemplate returns a copy rendered through a different template.
func (a Action) WithTemplate(t ActionType, template string) Action {
	a.Type = t
	a.TemplateKey = template
	return a
}

// Validate checks the context against TemplateSchema.
func (a Action) Validate() error {
	required, ok := TemplateSchema[a.TemplateKey]
	if !ok {
		return fmt.Errorf("decision: unknown template %q", a.TemplateKey)
	}
	var missing []string
	for _, key := range required {
		if a.ctx[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("decision: template %q missing context %v", a.TemplateKey, missing)
	}
	if a.RequiresTool && a.ToolName == "" {
		return fmt.Errorf("decision: action %q requires a tool but names none", a.Type)
	}
	return nil
}

type actionJSON struct {
	ActionType   ActionType `json:"action_type"`
	TemplateKey  string     `json:"template_key"`
	Context      Context    `json:"context"`
	RequiresTool bool       `json:"requires_tool"`
	ToolName     *string    `json:"tool_name"`
	NextState    *string    `json:"next_state"`
}

// MarshalJSON renders the action with the same field names used by logs
// and the operator CLI.
func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{
		ActionType:   a.Type,
		TemplateKey:  a.TemplateKey,
		Context:      a.ctx,
		RequiresTool: a.RequiresTool,
	}
	if out.Context == nil {
		out.Context = Context{}
	}
	if a.ToolName != "" {
		name := a.ToolName
		out.ToolName = &name
	}
	if a.NextState != "" {
		s := a.NextState.String()
		out.NextState = &s
	}
	return json.Marshal(out)
}
