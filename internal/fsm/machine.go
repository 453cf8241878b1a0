// Package fsm holds the per-customer appointment dialogue state machine.
package fsm

import (
	"errors"
	"fmt"
)

// Collected data keys shared by the decision engine, tools and persistence.
const (
	KeyProcedure        = "procedure"
	KeyDate             = "date"
	KeyTime             = "time"
	KeyName             = "name"
	KeyConfirmationCode = "confirmation_code"
)

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("fsm: invalid transition")

// InvalidTransitionError carries the rejected move.
type InvalidTransitionError struct {
	From AppointmentState
	To   AppointmentState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("fsm: invalid transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// TransitionResult is the value form of a transition attempt.
type TransitionResult struct {
	Applied bool
	From    AppointmentState
	To      AppointmentState
	Err     *InvalidTransitionError
}

// StateMachine is one customer's conversation state. It is owned by a single
// request at a time and is not safe for concurrent use.
type StateMachine struct {
	CurrentState  AppointmentState
	CustomerID    string
	CollectedData map[string]string
	History       []AppointmentState
}

// New returns a machine at INITIATED with no data or history.
func New(customerID string) *StateMachine {
	return &StateMachine{
		CurrentState:  StateInitiated,
		CustomerID:    customerID,
		CollectedData: make(map[string]string),
		History:       []AppointmentState{},
	}
}

// Restore rebuilds a machine from persisted fields.
func Restore(customerID string, current AppointmentState, data map[string]string, history []AppointmentState) (*StateMachine, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("fsm: unknown state %q", current)
	}
	for _, h := range history {
		if !h.Valid() {
			return nil, fmt.Errorf("fsm: unknown state %q in history", h)
		}
	}
	m := New(customerID)
	m.CurrentState = current
	for k, v := range data {
		m.CollectedData[k] = v
	}
	m.History = append(m.History, history...)
	return m, nil
}

// CanTransitionTo reports whether target is allowed from the current state.
func (m *StateMachine) CanTransitionTo(target AppointmentState) bool {
	for _, allowed := range transitions[m.CurrentState] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TryTransition attempts the move and reports the outcome as a value.
// On failure the machine is left untouched.
func (m *StateMachine) TryTransition(target AppointmentState) TransitionResult {
	from := m.CurrentState
	if !m.CanTransitionTo(target) {
		return TransitionResult{
			From: from,
			To:   target,
			Err:  &InvalidTransitionError{From: from, To: target},
		}
	}
	m.History = append(m.History, from)
	m.CurrentState = target
	return TransitionResult{Applied: true, From: from, To: target}
}

// Transition moves to target, returning *InvalidTransitionError when the
// move is not in the table.
func (m *StateMachine) Transition(target AppointmentState) error {
	res := m.TryTransition(target)
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// SetData stores a collected value. Keys are case-sensitive.
func (m *StateMachine) SetData(key, value string) {
	if m.CollectedData == nil {
		m.CollectedData = make(map[string]string)
	}
	m.CollectedData[key] = value
}

// GetData returns a collected value and whether it was present.
func (m *StateMachine) GetData(key string) (string, bool) {
	v, ok := m.CollectedData[key]
	return v, ok
}

// DataOr returns the collected value or fallback.
func (m *StateMachine) DataOr(key, fallback string) string {
	if v, ok := m.CollectedData[key]; ok {
		return v
	}
	return fallback
}

// DeleteData forgets a collected value so it can be asked for again.
func (m *StateMachine) DeleteData(key string) {
	delete(m.CollectedData, key)
}

// HasData reports whether key was collected.
func (m *StateMachine) HasData(key string) bool {
	_, ok := m.CollectedData[key]
	return ok
}

// Reset records the current state in history, returns to INITIATED and
// clears collected data.
func (m *StateMachine) Reset() {
	m.History = append(m.History, m.CurrentState)
	m.CurrentState = StateInitiated
	m.CollectedData = make(map[string]string)
}

// IsComplete reports whether the dialogue reached SCHEDULED or CANCELED.
func (m *StateMachine) IsComplete() bool {
	return m.CurrentState == StateScheduled || m.CurrentState == StateCanceled
}

// NeedsDate reports whether a date is still missing at INITIATED.
func (m *StateMachine) NeedsDate() bool {
	return m.CurrentState == StateInitiated && !m.HasData(KeyDate)
}

// NeedsTime reports whether a time is still missing at DATE_COLLECTED.
func (m *StateMachine) NeedsTime() bool {
	return m.CurrentState == StateDateCollected && !m.HasData(KeyTime)
}

// NeedsConfirmation reports whether the customer still has to confirm.
func (m *StateMachine) NeedsConfirmation() bool {
	return m.CurrentState == StateTimeCollected
}

// Clone returns a deep copy.
func (m *StateMachine) Clone() *StateMachine {
	c := &StateMachine{
		CurrentState:  m.CurrentState,
		CustomerID:    m.CustomerID,
		CollectedData: make(map[string]string, len(m.CollectedData)),
		History:       append([]AppointmentState{}, m.History...),
	}
	for k, v := range m.CollectedData {
		c.CollectedData[k] = v
	}
	return c
}
