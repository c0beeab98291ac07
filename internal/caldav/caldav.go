package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"eventsync/internal/ics"
	"eventsync/internal/models"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// DefaultEndpoint is the iCloud CalDAV server.
const DefaultEndpoint = "https://caldav.icloud.com/"

// basicAuthTransport adds Basic Auth and a user agent to each request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "eventsync/1.0")
	return t.Transport.RoundTrip(req)
}

// Config holds the CalDAV account to mirror published events into.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
}

// Client mirrors events into one CalDAV calendar.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	now          func() time.Time
}

// NewClient connects to the CalDAV server and looks up the calendar named
// cfg.CalendarName.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &basicAuthTransport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: http.DefaultTransport,
		},
	}

	c, err := newClient(logger, httpClient, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	logger.Info("Finding CalDAV calendar", "calendarName", cfg.CalendarName)
	calendarPath, err := c.findCalendar(ctx, cfg.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.CalendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// NewClientWithCalendar creates a client for a known calendar collection
// path, skipping discovery.
func NewClientWithCalendar(logger *slog.Logger, httpClient webdav.HTTPClient, endpoint, calendarPath string) (*Client, error) {
	c, err := newClient(logger, httpClient, endpoint)
	if err != nil {
		return nil, err
	}
	c.calendarPath = calendarPath
	return c, nil
}

func newClient(logger *slog.Logger, httpClient webdav.HTTPClient, endpoint string) (*Client, error) {
	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}
	return &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// MirrorReport counts what a Mirror call did.
type MirrorReport struct {
	Put     int
	Removed int
	Skipped int
	Failed  int
}

// Mirror puts every published event into the calendar and removes the
// cancelled ones. Drafts are skipped. A failure on one event is logged and
// the remaining events are still processed; the joined errors are returned.
func (c *Client) Mirror(ctx context.Context, events []models.Event) (MirrorReport, error) {
	var report MirrorReport
	var errs []error
	for i := range events {
		e := &events[i]
		var err error
		switch e.Status {
		case models.StatusPublished:
			if err = c.PutEvent(ctx, e); err == nil {
				report.Put++
			}
		case models.StatusCancelled:
			if err = c.RemoveEvent(ctx, e.ID); err == nil {
				report.Removed++
			}
		default:
			report.Skipped++
		}
		if err != nil {
			report.Failed++
			c.logger.Error("Failed to mirror event", "id", e.ID, "title", e.Title, "error", err)
			errs = append(errs, err)
		}
	}
	c.logger.Info("CalDAV mirror finished", "put", report.Put, "removed", report.Removed, "skipped", report.Skipped, "failed", report.Failed)
	return report, errors.Join(errs...)
}

// PutEvent creates or replaces the calendar object of e.
func (c *Client) PutEvent(ctx context.Context, e *models.Event) error {
	c.logger.Debug("Putting event to CalDAV", "eventTitle", e.Title, "id", e.ID)

	var buf bytes.Buffer
	if err := ics.EncodeEvent(&buf, e, c.now()); err != nil {
		return err
	}

	writer, err := c.webdavClient.Create(ctx, c.objectPath(e.ID))
	if err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	if _, err := io.Copy(writer, &buf); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write event to CalDAV server: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to store event on CalDAV server: %w", err)
	}
	return nil
}

// RemoveEvent deletes the calendar object of the event with the given id.
// A missing object is not an error.
func (c *Client) RemoveEvent(ctx context.Context, id string) error {
	err := c.webdavClient.RemoveAll(ctx, c.objectPath(id))
	if err != nil && !webdav.IsNotFound(err) {
		return fmt.Errorf("failed to remove event from CalDAV server: %w", err)
	}
	return nil
}

func (c *Client) objectPath(id string) string {
	return path.Join(c.calendarPath, id+".ics")
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
