package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type twilioMessageAPI interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioSender delivers replies over Twilio's WhatsApp channel.
type TwilioSender struct {
	api    twilioMessageAPI
	from   string
	logger *logging.Logger
}

func NewTwilioSender(accountSID, authToken, fromNumber string, logger *logging.Logger) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("whatsapp: twilio account sid and auth token required")
	}
	if fromNumber == "" {
		return nil, errors.New("whatsapp: twilio from number required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSenderWithAPI(client.Api, fromNumber, logger), nil
}

func newTwilioSenderWithAPI(api twilioMessageAPI, fromNumber string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{api: api, from: whatsappAddress(fromNumber), logger: logger}
}

func (s *TwilioSender) SendText(_ context.Context, to, text string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(s.from)
	params.SetBody(text)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.WithPhone(to).Error("twilio whatsapp send failed", "error", err)
		return fmt.Errorf("whatsapp: twilio send: %w", err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	s.logger.WithPhone(to).Info("twilio whatsapp message sent", "provider_message_id", sid)
	return nil
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + NormalizeE164(number)
}
