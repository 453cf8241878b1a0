package fsm

import (
	"fmt"
	"strings"
)

// AppointmentState is a step in one customer's scheduling dialogue.
type AppointmentState string

const (
	StateInitiated     AppointmentState = "initiated"
	StateDateCollected AppointmentState = "date_collected"
	StateTimeCollected AppointmentState = "time_collected"
	StateConfirmed     AppointmentState = "confirmed"
	StateScheduled     AppointmentState = "scheduled"
	StateCanceled      AppointmentState = "canceled"
)

// AllStates lists every state in dialogue order.
var AllStates = []AppointmentState{
	StateInitiated,
	StateDateCollected,
	StateTimeCollected,
	StateConfirmed,
	StateScheduled,
	StateCanceled,
}

// transitions is the static allowed-transitions table. CANCELED is terminal.
var transitions = map[AppointmentState][]AppointmentState{
	StateInitiated:     {StateDateCollected},
	StateDateCollected: {StateTimeCollected, StateInitiated},
	StateTimeCollected: {StateConfirmed, StateDateCollected},
	StateConfirmed:     {StateScheduled, StateCanceled},
	StateScheduled:     {StateCanceled},
	StateCanceled:      {},
}

// AllowedTransitions returns a copy of the targets reachable from s.
func AllowedTransitions(s AppointmentState) []AppointmentState {
	return append([]AppointmentState(nil), transitions[s]...)
}

func (s AppointmentState) String() string {
	return string(s)
}

// Valid reports whether s is a known state.
func (s AppointmentState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s AppointmentState) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ParseState validates a persisted state string. Matching is case-insensitive
// so records written with upper-case names still load.
func ParseState(raw string) (AppointmentState, error) {
	s := AppointmentState(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("fsm: unknown state %q", raw)
	}
	return s, nil
}
