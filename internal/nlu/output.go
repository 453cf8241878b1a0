// Package nlu turns raw model output into validated intents and entities.
package nlu

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Intent is the categorical purpose of a customer message.
type Intent string

const (
	IntentSchedule   Intent = "schedule"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentConfirm    Intent = "confirm"
	IntentDeny       Intent = "deny"
	IntentFAQ        Intent = "faq"
	IntentGreeting   Intent = "greeting"
	IntentUnknown    Intent = "unknown"
)

// Intents lists every recognized intent literal.
var Intents = []Intent{
	IntentSchedule, IntentReschedule, IntentCancel, IntentConfirm,
	IntentDeny, IntentFAQ, IntentGreeting, IntentUnknown,
}

// Valid reports whether i is one of the known literals.
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// Output is an extraction result whose optional fields are already valid:
// Date is YYYY-MM-DD, Time is HH:MM (24h) and Confidence is within [0,1].
type Output struct {
	Intent     Intent  `json:"intent"`
	Date       *string `json:"extracted_date,omitempty"`
	Time       *string `json:"extracted_time,omitempty"`
	Procedure  *string `json:"extracted_procedure,omitempty"`
	Confidence float64 `json:"confidence"`
	// ConfirmationCode is matched from the message text, not by the model.
	ConfirmationCode *string `json:"confirmation_code,omitempty"`
}

// Unknown is the degraded result used when extraction fails.
func Unknown() Output {
	return Output{Intent: IntentUnknown, Confidence: 0}
}

// RawOutput mirrors the JSON a model is asked to produce, before validation.
type RawOutput struct {
	Intent     string   `json:"intent"`
	Date       *string  `json:"extracted_date"`
	Time       *string  `json:"extracted_time"`
	Procedure  *string  `json:"extracted_procedure"`
	Confidence *float64 `json:"confidence"`
}

// ValidationError lists the fields that were rejected and dropped.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range []string{"intent", "extracted_date", "extracted_time", "confidence"} {
		if reason, ok := e.Fields[name]; ok {
			parts = append(parts, name+": "+reason)
		}
	}
	return "nlu: invalid output (" + strings.Join(parts, "; ") + ")"
}

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)
	codePattern = regexp.MustCompile(`(?i)\bAPPT-[0-9A-F]{8}\b`)
)

// FindConfirmationCode returns the first appointment code in text, upper-cased.
func FindConfirmationCode(text string) (string, bool) {
	code := codePattern.FindString(text)
	if code == "" {
		return "", false
	}
	return strings.ToUpper(code), true
}

// Parse validates raw extraction output. It always returns a usable Output:
// rejected optional fields are dropped, an unknown intent becomes
// IntentUnknown and confidence is clamped. The error, when non-nil, is a
// *ValidationError describing what was dropped or corrected.
func Parse(raw RawOutput) (Output, error) {
	problems := map[string]string{}
	out := Output{Confidence: 1}

	intent := Intent(strings.ToLower(strings.TrimSpace(raw.Intent)))
	if !intent.Valid() {
		problems["intent"] = fmt.Sprintf("unknown intent %q", raw.Intent)
		intent = IntentUnknown
	}
	out.Intent = intent

	if d := trimmed(raw.Date); d != nil {
		if err := ValidateDate(*d); err != nil {
			problems["extracted_date"] = err.Error()
		} else {
			out.Date = d
		}
	}
	if tm := trimmed(raw.Time); tm != nil {
		if err := ValidateTime(*tm); err != nil {
			problems["extracted_time"] = err.Error()
		} else {
			out.Time = tm
		}
	}
	out.Procedure = trimmed(raw.Procedure)

	if raw.Confidence != nil {
		c := *raw.Confidence
		switch {
		case c < 0:
			problems["confidence"] = "below 0"
			c = 0
		case c > 1:
			problems["confidence"] = "above 1"
			c = 1
		}
		out.Confidence = c
	}

	if len(problems) > 0 {
		return out, &ValidationError{Fields: problems}
	}
	return out, nil
}

// ValidateDate checks the YYYY-MM-DD shape and that the day exists.
func ValidateDate(s string) error {
	if !datePattern.MatchString(s) {
		return fmt.Errorf("date %q is not YYYY-MM-DD", s)
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("date %q is not a calendar date", s)
	}
	return nil
}

// ValidateTime checks the HH:MM 24h shape.
func ValidateTime(s string) error {
	if !timePattern.MatchString(s) {
		return fmt.Errorf("time %q is not HH:MM", s)
	}
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("time %q is out of range", s)
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

// Str is a helper for building Outputs in code and tests.
func Str(s string) *string {
	return &s
}
