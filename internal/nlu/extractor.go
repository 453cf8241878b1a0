package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/odontosorriso/scheduling-agent/internal/llm"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Extractor asks an LLM for intent and entities and validates the answer.
type Extractor struct {
	client    llm.Client
	model     string
	logger    *logging.Logger
	location  *time.Location
	now       func() time.Time
	maxTokens int32
}

// ExtractorOption customizes an Extractor.
type ExtractorOption func(*Extractor)

// WithClock overrides the time source used for the date prefix.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the clinic timezone used for the date prefix.
func WithLocation(loc *time.Location) ExtractorOption {
	return func(e *Extractor) {
		if loc != nil {
			e.location = loc
		}
	}
}

func NewExtractor(client llm.Client, model string, logger *logging.Logger, opts ...ExtractorOption) *Extractor {
	if client == nil {
		panic("nlu: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Extractor{
		client:    client,
		model:     model,
		logger:    logger,
		location:  time.UTC,
		now:       time.Now,
		maxTokens: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: any provider or decoding problem degrades to
// Unknown() so the decision layer can ask the customer to clarify.
func (e *Extractor) Extract(ctx context.Context, message, contextPrompt string) Output {
	now := e.now().In(e.location)
	req := llm.Request{
		Model:       e.model,
		System:      []string{SystemPrompt()},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: UserPrompt(message, now.Format("2006-01-02"), now.Format("15:04"), contextPrompt)}},
		MaxTokens:   e.maxTokens,
		Temperature: 0,
	}

	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		e.logger.Error("nlu extract failed", "error", err)
		return withConfirmationCode(Unknown(), message)
	}

	out, err := Decode(resp.Text)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			e.logger.Error("nlu response undecodable", "error", err)
			return withConfirmationCode(Unknown(), message)
		}
		e.logger.Warn("nlu output corrected", "error", err)
	}

	out = withConfirmationCode(out, message)

	e.logger.Info("nlu extract complete",
		"intent", out.Intent,
		"has_date", out.Date != nil,
		"has_time", out.Time != nil,
		"has_procedure", out.Procedure != nil,
		"confidence", out.Confidence,
	)
	return out
}

// Decode parses a model response into a validated Output. A *ValidationError
// is returned alongside a usable Output when only some fields were rejected.
func Decode(text string) (Output, error) {
	payload, err := llm.ExtractJSON(text)
	if err != nil {
		return Unknown(), err
	}
	var raw RawOutput
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Unknown(), err
	}
	return Parse(raw)
}

// withConfirmationCode attaches a code found in the message. A bare code
// with no recognizable intent is read as a cancellation reply, since codes
// are only requested when cancelling.
func withConfirmationCode(out Output, message string) Output {
	code, ok := FindConfirmationCode(message)
	if !ok {
		return out
	}
	out.ConfirmationCode = &code
	if out.Intent == IntentUnknown {
		out.Intent = IntentCancel
	}
	return out
}
