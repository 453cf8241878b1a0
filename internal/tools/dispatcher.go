// Package tools executes the side effects an action asks for: availability
// lookups, bookings and cancellations.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontosorriso/scheduling-agent/internal/appointments"
	"github.com/odontosorriso/scheduling-agent/internal/calendar"
	"github.com/odontosorriso/scheduling-agent/internal/customers"
	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Result keys.
const (
	KeySuccess          = "success"
	KeyAvailable        = "available"
	KeyError            = "error"
	KeyDate             = "date"
	KeyTime             = "time"
	KeyProcedure        = "procedure"
	KeyAvailableSlots   = decision.CtxAvailableSlots
	KeyAppointmentID    = decision.CtxAppointmentID
	KeyConfirmationCode = decision.CtxConfirmationCode
)

// Error messages shown to customers through the reply templates.
const (
	errInvalidDate     = "Formato de data inválido"
	errInvalidTime     = "Formato de horário inválido"
	errPastDate        = "Data no passado"
	errSlotTaken       = "Horário indisponível"
	errMissingCode     = "Código de confirmação não informado"
	errNotFound        = "Agendamento não encontrado"
	errAlreadyCanceled = "Agendamento já cancelado"
	errUnknownTool     = "Ferramenta desconhecida"
)

// DefaultSlots are the bookable start times when none are configured.
var DefaultSlots = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}

// Result is the flat string map merged into the action context.
type Result map[string]string

// Succeeded reports whether a tool ran to completion. Availability checks
// count as successful even when no slot is free.
func Succeeded(r Result) bool {
	if r == nil {
		return false
	}
	if r[KeySuccess] == "true" {
		return true
	}
	_, ok := r[KeyAvailable]
	return ok
}

// SlotsFromResult splits the comma-joined available_slots entry.
func SlotsFromResult(r Result) []string {
	raw := strings.TrimSpace(r[KeyAvailableSlots])
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// AppointmentStore is the persistence the tools depend on.
type AppointmentStore interface {
	Create(ctx context.Context, appt *appointments.Appointment) error
	GetByCode(ctx context.Context, code string) (*appointments.Appointment, error)
	Cancel(ctx context.Context, code string) error
	BookedTimesForDate(ctx context.Context, date string) ([]string, error)
	SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error
}

// CustomerStore resolves phone numbers to customers.
type CustomerStore interface {
	GetOrCreate(ctx context.Context, phone string) (*customers.Customer, error)
}

// Recorder receives one observation per tool call.
type Recorder interface {
	ObserveToolCall(tool, outcome string)
}

// Dispatcher routes tool names to their implementations.
type Dispatcher struct {
	appointments AppointmentStore
	customers    CustomerStore
	calendar     calendar.Calendar
	slots        []string
	duration     time.Duration
	loc          *time.Location
	now          func() time.Time
	recorder     Recorder
	logger       *logging.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithCalendar mirrors bookings to an external calendar and consults its
// busy periods.
func WithCalendar(c calendar.Calendar) Option {
	return func(d *Dispatcher) { d.calendar = c }
}

func WithSlots(slots []string) Option {
	return func(d *Dispatcher) {
		if len(slots) > 0 {
			d.slots = append([]string(nil), slots...)
		}
	}
}

func WithDuration(dur time.Duration) Option {
	return func(d *Dispatcher) {
		if dur > 0 {
			d.duration = dur
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func NewDispatcher(appts AppointmentStore, custs CustomerStore, logger *logging.Logger, opts ...Option) *Dispatcher {
	if appts == nil {
		panic("tools: appointment store required")
	}
	if custs == nil {
		panic("tools: customer store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		appointments: appts,
		customers:    custs,
		slots:        DefaultSlots,
		duration:     time.Hour,
		loc:          time.UTC,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs toolName with the action context. Business failures (past
// dates, unknown codes) come back as a Result with success=false; the error
// is reserved for infrastructure failures.
func (d *Dispatcher) Execute(ctx context.Context, toolName string, c decision.Context, customerPhone string) (Result, error) {
	log := d.logger.WithPhone(customerPhone).With("tool", toolName)
	log.Info("tool execution started")

	var (
		res Result
		err error
	)
	switch toolName {
	case decision.ToolCheckAvailability:
		res, err = d.checkAvailability(ctx, c[decision.CtxDate])
	case decision.ToolCreateAppointment:
		res, err = d.createAppointment(ctx, c, customerPhone)
	case decision.ToolCancelAppointment:
		res, err = d.cancelAppointment(ctx, c[decision.CtxConfirmationCode])
	default:
		res = failure(errUnknownTool)
	}

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		log.Error("tool execution failed", "error", err)
	case !Succeeded(res):
		outcome = "rejected"
		log.Warn("tool execution rejected", "reason", res[KeyError])
	default:
		log.Info("tool execution completed")
	}
	if d.recorder != nil {
		d.recorder.ObserveToolCall(toolName, outcome)
	}
	return res, err
}

func (d *Dispatcher) checkAvailability(ctx context.Context, dateStr string) (Result, error) {
	day, err := time.ParseInLocation("2006-01-02", dateStr, d.loc)
	if err != nil {
		return Result{KeyAvailable: "false", KeyError: errInvalidDate, KeyAvailableSlots: ""}, nil
	}
	now := d.now().In(d.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.loc)
	if day.Before(today) {
		return Result{KeyAvailable: "false", KeyDate: dateStr, KeyError: errPastDate, KeyAvailableSlots: ""}, nil
	}

	free, err := d.freeSlots(ctx, day, now)
	if err != nil {
		return nil, err
	}
	return Result{
		KeyAvailable:      strconv.FormatBool(len(free) > 0),
		KeyDate:           dateStr,
		KeyAvailableSlots: strings.Join(free, ","),
	}, nil
}

// freeSlots returns the configured slots on day minus stored bookings,
// calendar busy periods and, for today, times that already passed.
func (d *Dispatcher) freeSlots(ctx context.Context, day, now time.Time) ([]string, error) {
	dateStr := day.Format("2006-01-02")
	booked, err := d.appointments.BookedTimesForDate(ctx, dateStr)
	if err != nil {
		return nil, fmt.Errorf("tools: booked times: %w", err)
	}
	taken := make(map[string]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}

	if d.calendar != nil {
		busy, err := d.calendar.Busy(ctx, day)
		if err != nil {
			// The calendar is a mirror; the database stays authoritative.
			d.logger.Warn("calendar busy lookup failed", "date", dateStr, "error", err)
			busy = nil
		}
		for _, iv := range busy {
			// A busy period blocks the slot it starts at, on its own date only.
			start := iv.Start.In(d.loc)
			if start.Format("2006-01-02") == dateStr {
				taken[start.Format("15:04")] = true
			}
		}
	}

	free := make([]string, 0, len(d.slots))
	for _, slot := range d.slots {
		if taken[slot] {
			continue
		}
		start, err := d.slotTime(day, slot)
		if err != nil || !start.After(now) {
			continue
		}
		free = append(free, slot)
	}
	return free, nil
}

func (d *Dispatcher) slotTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, d.loc), nil
}

func (d *Dispatcher) createAppointment(ctx context.Context, c decision.Context, phone string) (Result, error) {
	dateStr, timeStr := c[decision.CtxDate], c[decision.CtxTime]
	day, err := time.ParseInLocation("2006-01-02", dateStr, d.loc)
	if err != nil {
		return failure(errInvalidDate), nil
	}
	start, err := d.slotTime(day, timeStr)
	if err != nil {
		return failure(errInvalidTime), nil
	}
	if !start.After(d.now()) {
		return failure(errPastDate), nil
	}

	free, err := d.freeSlots(ctx, day, d.now().In(d.loc))
	if err != nil {
		return nil, err
	}
	if !slices.Contains(free, timeStr) {
		return failure(errSlotTaken), nil
	}

	customer, err := d.customers.GetOrCreate(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("tools: customer: %w", err)
	}

	procedure := c[decision.CtxProcedure]
	appt := &appointments.Appointment{
		CustomerID:       customer.ID,
		Date:             dateStr,
		Time:             timeStr,
		Procedure:        procedure,
		ConfirmationCode: NewConfirmationCode(),
	}
	if err := d.appointments.Create(ctx, appt); err != nil {
		if errors.Is(err, appointments.ErrSlotTaken) {
			return failure(errSlotTaken), nil
		}
		return nil, err
	}

	if d.calendar != nil {
		d.mirrorToCalendar(ctx, appt, phone, start)
	}

	return Result{
		KeySuccess:          "true",
		KeyAppointmentID:    appt.ID.String(),
		KeyConfirmationCode: appt.ConfirmationCode,
		KeyDate:             dateStr,
		KeyTime:             timeStr,
		KeyProcedure:        procedure,
	}, nil
}

func (d *Dispatcher) mirrorToCalendar(ctx context.Context, appt *appointments.Appointment, phone string, start time.Time) {
	summary := appt.Procedure
	if summary == "" {
		summary = "Consulta"
	}
	eventID, err := d.calendar.CreateEvent(ctx, calendar.Event{
		Summary:     fmt.Sprintf("%s - %s", summary, phone),
		Description: "Código de confirmação: " + appt.ConfirmationCode,
		Start:       start,
		End:         start.Add(d.duration),
	})
	if err != nil {
		d.logger.Warn("calendar event creation failed", "appointment_id", appt.ID, "error", err)
		return
	}
	if err := d.appointments.SetCalendarEventID(ctx, appt.ID, eventID); err != nil {
		d.logger.Warn("calendar event link failed", "appointment_id", appt.ID, "error", err)
	}
}

func (d *Dispatcher) cancelAppointment(ctx context.Context, code string) (Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return failure(errMissingCode), nil
	}
	appt, err := d.appointments.GetByCode(ctx, code)
	if errors.Is(err, appointments.ErrNotFound) {
		return failure(errNotFound), nil
	}
	if err != nil {
		return nil, err
	}
	if appt.Status == appointments.StatusCanceled {
		return failure(errAlreadyCanceled), nil
	}
	if err := d.appointments.Cancel(ctx, code); err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			return failure(errNotFound), nil
		}
		return nil, err
	}
	if d.calendar != nil && appt.CalendarEventID != "" {
		if err := d.calendar.DeleteEvent(ctx, appt.CalendarEventID); err != nil {
			d.logger.Warn("calendar event deletion failed", "appointment_id", appt.ID, "error", err)
		}
	}
	return Result{
		KeySuccess:          "true",
		KeyAppointmentID:    appt.ID.String(),
		KeyConfirmationCode: code,
		KeyDate:             appt.Date,
		KeyTime:             appt.Time,
	}, nil
}

// NewConfirmationCode returns APPT- followed by eight uppercase hex digits.
func NewConfirmationCode() string {
	return "APPT-" + strings.ToUpper(uuid.New().String()[:8])
}

func failure(msg string) Result {
	return Result{KeySuccess: "false", KeyError: msg}
}
