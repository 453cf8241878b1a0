package deadletter

import (
	"encoding/json"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cpfRe   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
	phoneRe = regexp.MustCompile(`\+?\b\d[\d\s().-]{8,18}\d\b`)
)

const minPhoneDigits = 10

// ScrubPII masks emails, formatted CPFs and phone numbers. Dates, times and
// confirmation codes have too few digits to be taken for a phone.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = cpfRe.ReplaceAllString(text, "[CPF]")
	return phoneRe.ReplaceAllStringFunc(text, func(m string) string {
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < minPhoneDigits {
			return m
		}
		return "[PHONE]"
	})
}

// scrubEntry returns a copy safe to archive outside the database.
func scrubEntry(e Entry) Entry {
	e.ErrorMessage = ScrubPII(e.ErrorMessage)
	if len(e.Payload) > 0 {
		scrubbed := ScrubPII(string(e.Payload))
		if json.Valid([]byte(scrubbed)) {
			e.Payload = json.RawMessage(scrubbed)
		} else {
			raw, _ := json.Marshal(scrubbed)
			e.Payload = raw
		}
	}
	return e
}
