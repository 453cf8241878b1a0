package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// AppointmentEvent describes a booking change.
type AppointmentEvent struct {
	AppointmentID    string
	ConfirmationCode string
	CustomerPhone    string
	Procedure        string
	Date             string
	Time             string
	OccurredAt       time.Time
}

// AppointmentNotifier emails the clinic inbox about bookings and
// cancellations. Failures are logged and returned; callers treat them as
// best effort.
type AppointmentNotifier struct {
	email     EmailSender
	recipient string
	clinic    string
	logger    *logging.Logger
}

// NewAppointmentNotifier returns a notifier that does nothing when sender or
// recipient is missing.
func NewAppointmentNotifier(sender EmailSender, recipient, clinicName string, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if clinicName == "" {
		clinicName = "OdontoSorriso"
	}
	return &AppointmentNotifier{email: sender, recipient: recipient, clinic: clinicName, logger: logger}
}

func (n *AppointmentNotifier) enabled() bool {
	return n != nil && n.email != nil && n.recipient != ""
}

func (n *AppointmentNotifier) AppointmentCreated(ctx context.Context, evt AppointmentEvent) error {
	if !n.enabled() {
		return nil
	}
	subject := fmt.Sprintf("Novo agendamento %s - %s %s", evt.ConfirmationCode, displayDate(evt.Date), evt.Time)
	body := fmt.Sprintf(`Um novo agendamento foi feito pelo WhatsApp.

Procedimento: %s
Data: %s
Horário: %s
Paciente: %s
Código: %s
Registrado em: %s

Assistente virtual %s`, orDash(evt.Procedure), displayDate(evt.Date), evt.Time, evt.CustomerPhone,
		evt.ConfirmationCode, stamp(evt.OccurredAt), n.clinic)
	return n.send(ctx, subject, body, evt)
}

func (n *AppointmentNotifier) AppointmentCanceled(ctx context.Context, evt AppointmentEvent) error {
	if !n.enabled() {
		return nil
	}
	subject := fmt.Sprintf("Agendamento cancelado %s", evt.ConfirmationCode)
	body := fmt.Sprintf(`O paciente %s cancelou o agendamento %s pelo WhatsApp.

Data: %s
Horário: %s
Registrado em: %s

Assistente virtual %s`, evt.CustomerPhone, evt.ConfirmationCode, displayDate(evt.Date), orDash(evt.Time),
		stamp(evt.OccurredAt), n.clinic)
	return n.send(ctx, subject, body, evt)
}

func (n *AppointmentNotifier) send(ctx context.Context, subject, body string, evt AppointmentEvent) error {
	err := n.email.Send(ctx, EmailMessage{To: n.recipient, ToName: n.clinic, Subject: subject, Body: body})
	if err != nil {
		n.logger.Error("notify: clinic email failed", "error", err, "appointment_id", evt.AppointmentID)
		return fmt.Errorf("notify: clinic email: %w", err)
	}
	n.logger.Info("notify: clinic email sent", "appointment_id", evt.AppointmentID, "subject", subject)
	return nil
}

func displayDate(iso string) string {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return orDash(iso)
	}
	return t.Format("02/01/2006")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("02/01/2006 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
