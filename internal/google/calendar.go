package google

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventsync/internal/models"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	defaultCalendarID = "primary"
	defaultTimeZone   = "Europe/Paris"
)

// Credentials identify the service account and the calendar it manages.
type Credentials struct {
	ClientEmail string
	// PrivateKey is the PEM key; literal "\n" sequences are expanded.
	PrivateKey string
	CalendarID string
	TimeZone   string
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	timeZone   string
	now        func() time.Time
}

// NewClient creates a Google Calendar client authenticated as a service account.
func NewClient(ctx context.Context, logger *slog.Logger, creds Credentials) (*CalendarClient, error) {
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("google service account email and private key are required")
	}

	conf := &jwt.Config{
		Email:      creds.ClientEmail,
		PrivateKey: []byte(strings.ReplaceAll(creds.PrivateKey, `\n`, "\n")),
		Scopes:     []string{calendar.CalendarScope},
		TokenURL:   google.JWTTokenURL,
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return NewClientWithService(logger, service, creds.CalendarID, creds.TimeZone), nil
}

// NewClientWithService wraps an already configured Calendar service.
func NewClientWithService(logger *slog.Logger, service *calendar.Service, calendarID, timeZone string) *CalendarClient {
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	return &CalendarClient{
		service:    service,
		logger:     logger,
		calendarID: calendarID,
		timeZone:   timeZone,
		now:        time.Now,
	}
}

// CalendarID returns the calendar this client writes to.
func (c *CalendarClient) CalendarID() string {
	return c.calendarID
}

// ExportResult identifies an event created in Google Calendar.
type ExportResult struct {
	GoogleID string
	Link     string
}

// ExportEvent creates event in Google Calendar.
func (c *CalendarClient) ExportEvent(ctx context.Context, event models.Event) (ExportResult, error) {
	created, err := c.service.Events.Insert(c.calendarID, c.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		c.logger.Error("Error exporting event to Google Calendar", "title", event.Title, "error", err)
		return ExportResult{}, wrapError("insert", err)
	}

	c.logger.Info("Event exported to Google Calendar", "googleID", created.Id, "title", event.Title)
	return ExportResult{GoogleID: created.Id, Link: created.HtmlLink}, nil
}

// UpdateEvent overwrites the Google Calendar event with the fields of event.
func (c *CalendarClient) UpdateEvent(ctx context.Context, googleID string, event models.Event) error {
	_, err := c.service.Events.Update(c.calendarID, googleID, c.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		c.logger.Error("Error updating event in Google Calendar", "googleID", googleID, "error", err)
		return wrapError("update", err)
	}

	c.logger.Info("Google Calendar event updated", "googleID", googleID)
	return nil
}

// DeleteEvent removes an event. An event that is already gone counts as deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, googleID string) error {
	err := c.service.Events.Delete(c.calendarID, googleID).Context(ctx).Do()
	if err != nil {
		wrapped := wrapError("delete", err)
		if IsNotFound(wrapped) || IsGone(wrapped) {
			c.logger.Debug("Google Calendar event already deleted", "googleID", googleID)
			return nil
		}
		c.logger.Error("Error deleting event in Google Calendar", "googleID", googleID, "error", err)
		return wrapped
	}

	c.logger.Info("Google Calendar event deleted", "googleID", googleID)
	return nil
}

// ListCalendars returns the calendars visible to the service account (id -> summary).
func (c *CalendarClient) ListCalendars(ctx context.Context) (map[string]string, error) {
	calendars := make(map[string]string)
	err := c.service.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			calendars[item.Id] = item.Summary
		}
		return nil
	})
	if err != nil {
		return nil, wrapError("list calendars", err)
	}
	return calendars, nil
}

// toGoogleEvent converts an internal Event to the Google Calendar schema.
func (c *CalendarClient) toGoogleEvent(event models.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location(),
		Start: &calendar.EventDateTime{
			DateTime: event.StartDate.UTC().Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End().UTC().Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
	}
}
