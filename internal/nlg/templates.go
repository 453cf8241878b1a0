package nlg

import (
	"fmt"
	"strings"
	"time"

	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/tools"
)

// FallbackMessage is sent when nothing else can be produced.
const FallbackMessage = "Desculpe, tive um problema técnico. Pode repetir?"

type renderFunc func(c decision.Context) string

var templates = map[string]renderFunc{
	decision.TemplateGreeting: func(decision.Context) string {
		return "Olá! Sou a Ana, assistente virtual da Clínica OdontoSorriso. " +
			"Posso ajudar você a agendar, remarcar ou cancelar uma consulta. Como posso ajudar?"
	},
	decision.TemplateDeniedRestart: func(decision.Context) string {
		return "Tudo bem, vamos recomeçar. Qual procedimento você gostaria de agendar?"
	},
	decision.TemplateAskProcedure: func(decision.Context) string {
		return "Claro! Qual procedimento você gostaria de agendar? " +
			"Atendemos limpeza, clareamento, restauração, ortodontia, implante e outros."
	},
	decision.TemplateAskDate: func(c decision.Context) string {
		return fmt.Sprintf("Perfeito, %s! Para qual data você gostaria de agendar?", c[decision.CtxProcedure])
	},
	decision.TemplateAskTime:            askTime,
	decision.TemplateConfirmAppointment: confirmAppointment,
	decision.TemplateAppointmentConfirmed: func(c decision.Context) string {
		msg := fmt.Sprintf("Agendamento confirmado! %s em %s às %s.",
			c[decision.CtxProcedure], displayDate(c[decision.CtxDate]), c[decision.CtxTime])
		if code := c[decision.CtxConfirmationCode]; code != "" {
			msg += fmt.Sprintf(" Seu código de confirmação é %s. Guarde-o para remarcar ou cancelar.", code)
		}
		return msg
	},
	decision.TemplateAppointmentAlreadyConfirmed: func(decision.Context) string {
		return "Seu agendamento já está confirmado! Posso ajudar com mais alguma coisa?"
	},
	decision.TemplateAskConfirmationCode: func(decision.Context) string {
		return "Qual é o código de confirmação do agendamento que você deseja cancelar? Ele começa com APPT-."
	},
	decision.TemplateCancelAppointment: func(c decision.Context) string {
		return fmt.Sprintf("Seu agendamento %s foi cancelado com sucesso. Se quiser remarcar, é só me avisar!",
			c[decision.CtxConfirmationCode])
	},
	decision.TemplateFAQResponse: func(c decision.Context) string {
		if p := c[decision.CtxProcedure]; p != "" {
			return fmt.Sprintf("Sobre %s: nossa equipe pode esclarecer todos os detalhes na consulta de avaliação. "+
				"Gostaria de agendar?", p)
		}
		return "Posso ajudar com informações sobre nossos procedimentos e horários. Gostaria de agendar uma consulta?"
	},
	decision.TemplateClarify: func(decision.Context) string {
		return "Desculpe, não entendi. Você gostaria de agendar, remarcar ou cancelar uma consulta?"
	},
	decision.TemplateClarifyConfirm: func(decision.Context) string {
		return "Não há nenhum agendamento aguardando confirmação. Gostaria de agendar uma consulta?"
	},
	decision.TemplateToolFailed: func(c decision.Context) string {
		if e := c[decision.CtxError]; e != "" {
			return fmt.Sprintf("Desculpe, não consegui concluir essa operação: %s. Pode tentar novamente?", e)
		}
		return "Desculpe, não consegui concluir essa operação. Pode tentar novamente?"
	},
}

func askTime(c decision.Context) string {
	date := displayDate(c[decision.CtxDate])
	if e := c[decision.CtxError]; e != "" {
		return fmt.Sprintf("%s. Poderia me informar outra data?", e)
	}
	if slots := c[decision.CtxAvailableSlots]; slots != "" {
		return fmt.Sprintf("Para %s temos os seguintes horários disponíveis: %s. Qual você prefere?",
			date, strings.ReplaceAll(slots, ",", ", "))
	}
	if c["available"] == "false" {
		return fmt.Sprintf("Infelizmente não há horários disponíveis em %s. Gostaria de escolher outra data?", date)
	}
	return fmt.Sprintf("Para %s, qual horário você prefere?", date)
}

func confirmAppointment(c decision.Context) string {
	return fmt.Sprintf("Vamos confirmar: %s em %s às %s. Posso confirmar o agendamento? Responda Sim ou Não.",
		c[decision.CtxProcedure], displayDate(c[decision.CtxDate]), c[decision.CtxTime])
}

// Render produces the deterministic template reply for an action.
func Render(a decision.Action) Reply {
	fn, ok := templates[a.TemplateKey]
	if !ok {
		return Reply{Type: KindGeneral, Category: CategoryError, Message: FallbackMessage, Source: "fallback"}
	}
	c := a.Context()
	r := Reply{
		Type:          KindFor(a),
		Message:       fn(c),
		MissingFields: missingFields(a),
		Procedure:     c[decision.CtxProcedure],
		Date:          c[decision.CtxDate],
		Time:          c[decision.CtxTime],
		Source:        "template",
	}
	if r.Type == KindGeneral {
		r.Category = CategoryFor(a)
	}
	if r.Type == KindOfferSlots {
		r.Slots = tools.SlotsFromResult(tools.Result(c))
	}
	if r.Type == KindAppointmentScheduled {
		r.ConfirmationCode = c[decision.CtxConfirmationCode]
	}
	return r
}

// displayDate renders YYYY-MM-DD as DD/MM/YYYY; anything else is returned
// unchanged.
func displayDate(iso string) string {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return t.Format("02/01/2006")
}
