// Package calendar mirrors clinic appointments to Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Interval is a busy period on the calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Event describes an appointment to place on the calendar.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar is what the scheduling tools need from an external calendar.
type Calendar interface {
	Busy(ctx context.Context, day time.Time) ([]Interval, error)
	CreateEvent(ctx context.Context, ev Event) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// GoogleCalendar talks to the Google Calendar v3 API.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	logger     *logging.Logger
}

// NewGoogleCalendar builds a client. opts are passed to the API client, e.g.
// option.WithCredentialsFile.
func NewGoogleCalendar(ctx context.Context, calendarID string, loc *time.Location, logger *logging.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if calendarID == "" {
		return nil, errors.New("calendar: calendar id required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: new service: %w", err)
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, loc: loc, logger: logger}, nil
}

// Busy returns the busy intervals for the whole local day containing day.
func (g *GoogleCalendar) Busy(ctx context.Context, day time.Time) ([]Interval, error) {
	local := day.In(g.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	req := &gcal.FreeBusyRequest{
		TimeMin:  startOfDay.Format(time.RFC3339),
		TimeMax:  endOfDay.Format(time.RFC3339),
		TimeZone: g.loc.String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	for _, e := range cal.Errors {
		g.logger.Warn("calendar freebusy error", "calendar_id", g.calendarID, "reason", e.Reason)
	}

	out := make([]Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			continue
		}
		out = append(out, Interval{Start: start.In(g.loc), End: end.In(g.loc)})
	}
	return out, nil
}

// CreateEvent inserts ev and returns the calendar event id.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, ev Event) (string, error) {
	event := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.In(g.loc).Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.In(g.loc).Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
	}
	created, err := g.svc.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	g.logger.Info("calendar event created", "event_id", created.Id)
	return created.Id, nil
}

// DeleteEvent removes the event. Missing events are not an error.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}
