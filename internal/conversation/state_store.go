package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/odontosorriso/scheduling-agent/internal/fsm"
)

// DefaultTTL is the idle expiry of a conversation.
const DefaultTTL = time.Hour

// ErrNotFound is returned by stores when no live record exists.
var ErrNotFound = errors.New("conversation: state not found")

// Record is the persisted shape of a state machine.
type Record struct {
	CurrentState  string            `json:"current_state" dynamodbav:"current_state"`
	CollectedData map[string]string `json:"collected_data" dynamodbav:"collected_data"`
	History       []string          `json:"history" dynamodbav:"history"`
}

// Summary is one row of the active-conversation listing.
type Summary struct {
	Phone         string            `json:"phone"`
	State         string            `json:"state"`
	CollectedData map[string]string `json:"collected_data"`
}

// StateStore persists records keyed by normalized phone number. Saves
// overwrite and refresh the idle TTL.
type StateStore interface {
	Load(ctx context.Context, phone string) (Record, error)
	Save(ctx context.Context, phone string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, phone string) error
	List(ctx context.Context, limit int) ([]Summary, error)
}

// RecordFrom snapshots a machine for persistence.
func RecordFrom(m *fsm.StateMachine) Record {
	rec := Record{
		CurrentState:  m.CurrentState.String(),
		CollectedData: make(map[string]string, len(m.CollectedData)),
		History:       make([]string, 0, len(m.History)),
	}
	for k, v := range m.CollectedData {
		rec.CollectedData[k] = v
	}
	for _, s := range m.History {
		rec.History = append(rec.History, s.String())
	}
	return rec
}

// Machine rebuilds the state machine for phone. A record without a state
// is treated as INITIATED.
func (r Record) Machine(phone string) (*fsm.StateMachine, error) {
	current := fsm.StateInitiated
	if r.CurrentState != "" {
		s, err := fsm.ParseState(r.CurrentState)
		if err != nil {
			return nil, err
		}
		current = s
	}
	history := make([]fsm.AppointmentState, 0, len(r.History))
	for _, h := range r.History {
		s, err := fsm.ParseState(h)
		if err != nil {
			return nil, err
		}
		history = append(history, s)
	}
	return fsm.Restore(phone, current, r.CollectedData, history)
}

func stateKey(phone string) string {
	return keyPrefix + phone
}

const keyPrefix = "conversation:"
