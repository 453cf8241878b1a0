package nlg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/llm"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

const systemPrompt = `Você é a Ana, assistente virtual da Clínica OdontoSorriso.
Sua persona: profissional, acolhedora, eficiente e direta.
NUNCA invente informações. Use apenas o contexto fornecido.
Responda SOMENTE com um objeto JSON no formato solicitado, sem texto adicional.`

var shapeHints = map[Kind]string{
	KindAskInfo:              `{"type":"ask_info","missing_fields":["..."],"message":"pergunta terminando com ?"}`,
	KindConfirmAppointment:   `{"type":"confirm_appointment","procedure":"...","date":"DD/MM/YYYY","time":"HH:MM","message":"resumo pedindo Sim ou Não"}`,
	KindAppointmentScheduled: `{"type":"appointment_scheduled","confirmation_code":"...","message":"mensagem de sucesso com o código"}`,
	KindOfferSlots:           `{"type":"offer_slots","date":"...","slots":["09:00"],"message":"lista os horários e pede para escolher"}`,
	KindGeneral:              `{"type":"general","category":"greeting|cancellation|error|off_topic","message":"..."}`,
}

// Generator writes replies with an LLM and falls back to Render.
type Generator struct {
	client    llm.Client
	model     string
	logger    *logging.Logger
	maxTokens int32
	knowledge string
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithKnowledge appends clinic reference text (FAQ, prices, address) to the
// system prompt. Blank text is ignored.
func WithKnowledge(text string) GeneratorOption {
	return func(g *Generator) {
		g.knowledge = strings.TrimSpace(text)
	}
}

// NewGenerator builds a Generator. A nil client renders templates only.
func NewGenerator(client llm.Client, model string, logger *logging.Logger, opts ...GeneratorOption) *Generator {
	if logger == nil {
		logger = logging.Default()
	}
	g := &Generator{client: client, model: model, logger: logger, maxTokens: 400}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) system() []string {
	if g.knowledge == "" {
		return []string{systemPrompt}
	}
	return []string{systemPrompt, knowledgeHeader + g.knowledge}
}

// Generate always returns a reply the customer can read.
func (g *Generator) Generate(ctx context.Context, a decision.Action) Reply {
	if g.client == nil {
		return Render(a)
	}

	kind := KindFor(a)
	reply, err := g.complete(ctx, a, kind)
	if err != nil {
		g.logger.Warn("nlg generation rejected, using template",
			"action", a.Type,
			"kind", kind,
			"error", err,
		)
		return Render(a)
	}

	g.logger.Info("nlg generate success", "action", a.Type, "kind", kind)
	return reply
}

func (g *Generator) complete(ctx context.Context, a decision.Action, kind Kind) (Reply, error) {
	contextJSON, err := json.Marshal(a.Context())
	if err != nil {
		return Reply{}, err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Ação do Sistema: %s\n", a.Type)
	fmt.Fprintf(&prompt, "Contexto Disponível: %s\n", contextJSON)
	fmt.Fprintf(&prompt, "Tarefa: gere a resposta ao paciente no formato %s.\n", shapeHints[kind])
	switch a.Type {
	case decision.ActionAskTime:
		prompt.WriteString("Pergunte o horário preferido para o agendamento.\n")
	case decision.ActionAskDate:
		prompt.WriteString("Pergunte a data preferida para o agendamento.\n")
	}
	if kind == KindGeneral {
		fmt.Fprintf(&prompt, "Use a categoria %q.\n", CategoryFor(a))
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       g.model,
		System:      g.system(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}},
		MaxTokens:   g.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return Reply{}, err
	}

	payload, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Reply{}, fmt.Errorf("nlg: decode reply: %w", err)
	}
	if err := Validate(r, a); err != nil {
		return Reply{}, err
	}
	r.Source = "llm"
	return r, nil
}
