// Package nlg turns decision actions into customer-facing WhatsApp replies.
// An LLM writes the wording inside a fixed response shape; deterministic
// Portuguese templates take over whenever the model is unavailable or its
// answer does not fit the shape.
package nlg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/tools"
)

// Kind names a response shape.
type Kind string

const (
	KindAskInfo              Kind = "ask_info"
	KindConfirmAppointment   Kind = "confirm_appointment"
	KindAppointmentScheduled Kind = "appointment_scheduled"
	KindOfferSlots           Kind = "offer_slots"
	KindGeneral              Kind = "general"
)

// Categories allowed for KindGeneral.
const (
	CategoryGreeting     = "greeting"
	CategoryCancellation = "cancellation"
	CategoryError        = "error"
	CategoryOffTopic     = "off_topic"
)

// Reply is a structured response. Message is what the customer reads; the
// other fields let the shape be checked against the action.
type Reply struct {
	Type             Kind     `json:"type"`
	Message          string   `json:"message"`
	Category         string   `json:"category,omitempty"`
	MissingFields    []string `json:"missing_fields,omitempty"`
	Procedure        string   `json:"procedure,omitempty"`
	Date             string   `json:"date,omitempty"`
	Time             string   `json:"time,omitempty"`
	Slots            []string `json:"slots,omitempty"`
	ConfirmationCode string   `json:"confirmation_code,omitempty"`
	Source           string   `json:"-"`
}

// KindFor picks the response shape for an action.
func KindFor(a decision.Action) Kind {
	switch a.Type {
	case decision.ActionAskProcedure, decision.ActionAskDate, decision.ActionAskConfirmationCode:
		return KindAskInfo
	case decision.ActionAskTime:
		if slots, _ := a.Value(decision.CtxAvailableSlots); slots != "" {
			return KindOfferSlots
		}
		return KindAskInfo
	case decision.ActionConfirmAppointment:
		return KindConfirmAppointment
	case decision.ActionCreateAppointment:
		return KindAppointmentScheduled
	default:
		return KindGeneral
	}
}

// CategoryFor picks the general-message category for an action.
func CategoryFor(a decision.Action) string {
	switch a.Type {
	case decision.ActionGreet:
		return CategoryGreeting
	case decision.ActionCancelAppointment, decision.ActionAppointmentCanceled:
		return CategoryCancellation
	case decision.ActionError:
		return CategoryError
	default:
		return CategoryOffTopic
	}
}

func missingFields(a decision.Action) []string {
	switch a.Type {
	case decision.ActionAskProcedure:
		return []string{"procedure"}
	case decision.ActionAskDate:
		return []string{"date"}
	case decision.ActionAskTime:
		return []string{"time"}
	case decision.ActionAskConfirmationCode:
		return []string{"confirmation_code"}
	}
	return nil
}

// Validate checks that r has the shape expected for a.
func Validate(r Reply, a decision.Action) error {
	want := KindFor(a)
	if r.Type != want {
		return fmt.Errorf("nlg: reply type %q, want %q", r.Type, want)
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return errors.New("nlg: empty message")
	}

	switch want {
	case KindAskInfo:
		if !strings.Contains(msg, "?") {
			return errors.New("nlg: question must contain a question mark")
		}
	case KindConfirmAppointment:
		date, _ := a.Value(decision.CtxDate)
		tm, _ := a.Value(decision.CtxTime)
		if !mentionsDate(msg, date) {
			return fmt.Errorf("nlg: confirmation must mention date %s", date)
		}
		if !strings.Contains(msg, tm) {
			return fmt.Errorf("nlg: confirmation must mention time %s", tm)
		}
	case KindAppointmentScheduled:
		if code, _ := a.Value(decision.CtxConfirmationCode); code != "" && !strings.Contains(msg, code) {
			return fmt.Errorf("nlg: scheduled message must carry code %s", code)
		}
	case KindOfferSlots:
		found := false
		for _, s := range tools.SlotsFromResult(tools.Result(a.Context())) {
			if s != "" && strings.Contains(msg, s) {
				found = true
				break
			}
		}
		if !found {
			return errors.New("nlg: slot offer must list at least one slot")
		}
	case KindGeneral:
		switch r.Category {
		case CategoryGreeting, CategoryCancellation, CategoryError, CategoryOffTopic:
		default:
			return fmt.Errorf("nlg: unknown category %q", r.Category)
		}
	}
	return nil
}

// mentionsDate accepts ISO or Brazilian day-first renderings.
func mentionsDate(msg, iso string) bool {
	if iso == "" {
		return true
	}
	return strings.Contains(msg, iso) || strings.Contains(msg, displayDate(iso))
}
