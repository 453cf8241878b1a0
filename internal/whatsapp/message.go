// Package whatsapp parses inbound WhatsApp webhooks and sends replies
// through the Evolution API or Twilio.
package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minMessageIDLen = 16
	maxMessageIDLen = 64
	maxBodyLen      = 4096

	EventMessagesUpsert = "messages.upsert"
)

// Message is a validated inbound text message.
type Message struct {
	MessageID  string    `json:"message_id"`
	FromNumber string    `json:"from_number"`
	Body       string    `json:"body"`
	PushName   string    `json:"push_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range []string{"message_id", "from_number", "body"} {
		if msg, ok := e.Fields[f]; ok {
			parts = append(parts, f+": "+msg)
		}
	}
	return "whatsapp: invalid message: " + strings.Join(parts, "; ")
}

// Validate trims the body, normalizes the phone and enforces field limits.
func (m *Message) Validate() error {
	fields := map[string]string{}

	m.Body = strings.TrimSpace(m.Body)
	m.FromNumber = NormalizeE164(m.FromNumber)

	if n := len(m.MessageID); n < minMessageIDLen || n > maxMessageIDLen {
		fields["message_id"] = fmt.Sprintf("length must be between %d and %d", minMessageIDLen, maxMessageIDLen)
	}
	if !validE164(m.FromNumber) {
		fields["from_number"] = "must be an E.164 number"
	}
	if n := utf8.RuneCountInString(m.Body); n < 1 || n > maxBodyLen {
		fields["body"] = fmt.Sprintf("length must be between 1 and %d", maxBodyLen)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// NormalizeE164 keeps digits and a plus sign, and makes sure the number
// starts with +.
func NormalizeE164(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return ""
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned
}

// validE164 matches ^\+?[1-9]\d{1,14}$ on an already normalized number.
func validE164(s string) bool {
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 2 || len(digits) > 15 || digits[0] == '0' {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// EvolutionWebhook is the subset of the Evolution API webhook envelope used
// for inbound messages.
type EvolutionWebhook struct {
	Event    string        `json:"event"`
	Instance string        `json:"instance"`
	Data     EvolutionData `json:"data"`
}

type EvolutionData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	Message          *EvolutionBody  `json:"message"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
}

type EvolutionBody struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

// Text returns the message text, or "" for non-text content.
func (b *EvolutionBody) Text() string {
	if b == nil {
		return ""
	}
	if b.Conversation != "" {
		return b.Conversation
	}
	if b.ExtendedTextMessage != nil {
		return b.ExtendedTextMessage.Text
	}
	return ""
}

// ToMessage converts the webhook into a Message. ok is false for events that
// are not customer text messages: other event types, our own outbound
// messages, group chats and media.
func (w EvolutionWebhook) ToMessage() (Message, bool) {
	if w.Event != "" && w.Event != EventMessagesUpsert {
		return Message{}, false
	}
	if w.Data.Key.FromMe {
		return Message{}, false
	}
	jid := w.Data.Key.RemoteJID
	if jid == "" || strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@broadcast") {
		return Message{}, false
	}
	text := w.Data.Message.Text()
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	phone := jid
	if i := strings.Index(phone, "@"); i >= 0 {
		phone = phone[:i]
	}
	if i := strings.Index(phone, ":"); i >= 0 {
		phone = phone[:i]
	}

	return Message{
		MessageID:  w.Data.Key.ID,
		FromNumber: NormalizeE164(phone),
		Body:       text,
		PushName:   w.Data.PushName,
		Timestamp:  parseTimestamp(w.Data.MessageTimestamp),
	}, true
}

// parseTimestamp accepts unix seconds as a number or a string.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now().UTC()
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n > 0 {
			return time.Unix(n, 0).UTC()
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
