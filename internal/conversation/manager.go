// Package conversation loads and persists per-customer dialogue state.
package conversation

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/odontosorriso/scheduling-agent/internal/fsm"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// FailureRecorder counts swallowed store failures by operation.
type FailureRecorder interface {
	ObserveStateStoreFailure(operation string)
}

// Manager wraps a StateStore with the fail-open policy: load problems yield
// a fresh machine and save problems are logged, never returned.
type Manager struct {
	store    StateStore
	ttl      time.Duration
	logger   *logging.Logger
	failures FailureRecorder
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the idle expiry.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithFailureRecorder attaches a metrics sink for swallowed errors.
func WithFailureRecorder(r FailureRecorder) ManagerOption {
	return func(m *Manager) { m.failures = r }
}

func NewManager(store StateStore, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("conversation: state store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{store: store, ttl: DefaultTTL, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the persisted machine for phone, or a fresh INITIATED
// machine when nothing is stored or the store misbehaves.
func (m *Manager) GetOrCreate(ctx context.Context, phone string) *fsm.StateMachine {
	log := m.logger.WithPhone(phone)

	rec, err := m.store.Load(ctx, phone)
	if err != nil {
		if !IsNotFound(err) {
			log.Warn("conversation state load failed", "error", err)
			m.observeFailure("load")
		}
		return fsm.New(phone)
	}

	machine, err := rec.Machine(phone)
	if err != nil {
		log.Warn("conversation state corrupt, starting over", "error", err)
		m.observeFailure("decode")
		return fsm.New(phone)
	}

	log.Info("conversation state loaded",
		"state", machine.CurrentState,
		"collected_keys", len(machine.CollectedData),
	)
	return machine
}

// Save persists the machine with a refreshed TTL.
func (m *Manager) Save(ctx context.Context, phone string, machine *fsm.StateMachine) {
	log := m.logger.WithPhone(phone)
	if err := m.store.Save(ctx, phone, RecordFrom(machine), m.ttl); err != nil {
		log.Warn("conversation state save failed", "error", err)
		m.observeFailure("save")
		return
	}
	log.Info("conversation state saved", "state", machine.CurrentState)
}

// Clear deletes the persisted state for phone.
func (m *Manager) Clear(ctx context.Context, phone string) error {
	if err := m.store.Delete(ctx, phone); err != nil {
		m.observeFailure("delete")
		return err
	}
	m.logger.WithPhone(phone).Info("conversation state cleared")
	return nil
}

// Peek returns the stored record without the fail-open fallback.
func (m *Manager) Peek(ctx context.Context, phone string) (Record, error) {
	return m.store.Load(ctx, phone)
}

// List returns up to limit active conversations.
func (m *Manager) List(ctx context.Context, limit int) ([]Summary, error) {
	return m.store.List(ctx, limit)
}

func (m *Manager) observeFailure(op string) {
	if m.failures != nil {
		m.failures.ObserveStateStoreFailure(op)
	}
}

var dataLabels = map[string]string{
	fsm.KeyProcedure: "Procedimento",
	fsm.KeyDate:      "Data",
	fsm.KeyTime:      "Horário",
	fsm.KeyName:      "Nome",
}

const (
	contextHeader = "## Contexto da Conversa (DADOS JÁ COLETADOS - NÃO PERGUNTE NOVAMENTE!)"
	contextFooter = "USE os dados acima. NÃO pergunte o que já foi informado!"
)

// BuildContextPrompt renders the collected data as labeled lines for the
// language model prompts. Keys are sorted so the output is stable. It
// returns "" when nothing has been collected.
func BuildContextPrompt(machine *fsm.StateMachine) string {
	if machine == nil || len(machine.CollectedData) == 0 {
		return ""
	}
	keys := make([]string, 0, len(machine.CollectedData))
	for k := range machine.CollectedData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for _, k := range keys {
		b.WriteString("- **")
		b.WriteString(label(k))
		b.WriteString(":** ")
		b.WriteString(machine.CollectedData[k])
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(contextFooter)
	b.WriteString("\n")
	return b.String()
}

// label maps known keys to Portuguese labels and title-cases the rest,
// treating underscores as word breaks.
func label(key string) string {
	if l, ok := dataLabels[key]; ok {
		return l
	}
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
