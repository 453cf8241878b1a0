package nlu

import "strings"

// KnownProcedures are the clinic's procedures, in the casing shown to customers.
var KnownProcedures = []string{
	"Limpeza", "Clareamento", "Restauração", "Ortodontia", "Implante",
	"Prótese", "Canal", "Extração", "Emergência", "Consulta", "Avaliação",
}

const systemPrompt = `Você é um extrator de intenções para uma clínica odontológica.

Sua ÚNICA tarefa é extrair informações da mensagem do usuário e responder
APENAS com um objeto JSON com as chaves:
  "intent", "extracted_date", "extracted_time", "extracted_procedure", "confidence".

REGRAS:
- Você NÃO responde ao usuário e NÃO decide o que fazer.
- extracted_date no formato YYYY-MM-DD, extracted_time no formato HH:MM (24h).
- Para datas relativas como "amanhã" ou "próxima semana", calcule a data real
  usando a data atual informada entre colchetes.
- Use null para o que não foi mencionado; confidence entre 0 e 1.

INTENTS:
- schedule: quer agendar ("quero marcar", "preciso agendar")
- reschedule: quer remarcar ("preciso mudar a data")
- cancel: quer cancelar ("cancelar consulta", "não posso ir")
- confirm: está confirmando ("sim", "ok", "pode ser", "confirmo")
- deny: está negando ("não", "não quero")
- faq: pergunta sobre serviços ("quanto custa", "vocês fazem")
- greeting: saudação ("olá", "oi", "bom dia")
- unknown: não foi possível determinar
`

// SystemPrompt returns the extraction instructions including the known
// procedure list.
func SystemPrompt() string {
	return systemPrompt + "\nPROCEDIMENTOS CONHECIDOS:\n- " + strings.Join(KnownProcedures, ", ") + "\n"
}

// UserPrompt prefixes the message with the clinic-local date and time so
// relative dates resolve correctly. contextPrompt, when present, lists
// already collected data.
func UserPrompt(message, currentDate, currentTime, contextPrompt string) string {
	var parts []string
	if currentDate != "" {
		parts = append(parts, "Data atual: "+currentDate)
	}
	if currentTime != "" {
		parts = append(parts, "Hora atual: "+currentTime)
	}
	prompt := message
	if len(parts) > 0 {
		prompt = "[" + strings.Join(parts, " | ") + "] " + message
	}
	if strings.TrimSpace(contextPrompt) != "" {
		prompt = contextPrompt + "\n\n" + prompt
	}
	return prompt
}

// DetectProcedure finds a known procedure mentioned in free text, ignoring
// case. It returns "" when none matches.
func DetectProcedure(text string) string {
	lower := strings.ToLower(text)
	for _, p := range KnownProcedures {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}
