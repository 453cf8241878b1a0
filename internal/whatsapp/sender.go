package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Sender delivers a text reply to a customer.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

const (
	ProviderEvolution = "evolution"
	ProviderTwilio    = "twilio"
	ProviderLog       = "log"
)

// SenderConfig carries the credentials for every provider.
type SenderConfig struct {
	Provider          string
	EvolutionAPIURL   string
	EvolutionAPIKey   string
	EvolutionInstance string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
}

// BuildSender picks the configured provider. ProviderLog only logs replies
// and is meant for local development.
func BuildSender(cfg SenderConfig, logger *logging.Logger) (Sender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderEvolution:
		if cfg.EvolutionAPIURL == "" || cfg.EvolutionInstance == "" {
			return nil, fmt.Errorf("whatsapp: evolution url and instance required")
		}
		return NewEvolutionClient(cfg.EvolutionAPIURL, cfg.EvolutionAPIKey, cfg.EvolutionInstance, logger), nil
	case ProviderTwilio:
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	case ProviderLog:
		return LogSender{logger: logger}, nil
	default:
		return nil, fmt.Errorf("whatsapp: unknown provider %q", cfg.Provider)
	}
}

// LogSender writes replies to the log instead of delivering them.
type LogSender struct {
	logger *logging.Logger
}

func (s LogSender) SendText(_ context.Context, to, text string) error {
	s.logger.WithPhone(to).Info("whatsapp reply (log only)", "text_length", len(text))
	return nil
}
