// Package maintenance holds one-off operations run from the command line:
// exporting local events to Google Calendar and removing junk events.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"eventsync/internal/google"
	"eventsync/internal/models"
	"eventsync/internal/store"
)

// Calendar is the Google Calendar side of maintenance operations.
type Calendar interface {
	ExportEvent(ctx context.Context, event models.Event) (google.ExportResult, error)
	UpdateEvent(ctx context.Context, googleID string, event models.Event) error
	DeleteEvent(ctx context.Context, googleID string) error
}

// Store is the event store side of maintenance operations.
type Store interface {
	ListEvents(ctx context.Context, opts store.ListOptions) ([]models.Event, error)
	SetGoogleLink(ctx context.Context, id, googleID, link string) error
	DeleteEvent(ctx context.Context, id string) error
}

// Result counts what an operation did. Failed events are logged.
type Result struct {
	Processed int
	Failed    int
}

type Maintainer struct {
	logger   *slog.Logger
	calendar Calendar
	store    Store
}

func New(logger *slog.Logger, calendar Calendar, store Store) *Maintainer {
	return &Maintainer{logger: logger, calendar: calendar, store: store}
}

// Export pushes every local event without a Google Calendar id and records
// the returned id and link. With update set, events that are already linked
// are pushed again to overwrite their Google copy.
func (m *Maintainer) Export(ctx context.Context, update bool) (Result, error) {
	var res Result

	unlinked := false
	events, err := m.store.ListEvents(ctx, store.ListOptions{Linked: &unlinked})
	if err != nil {
		return res, err
	}
	for _, e := range events {
		if e.Status == models.StatusCancelled {
			continue
		}
		out, err := m.calendar.ExportEvent(ctx, e)
		if err == nil {
			err = m.store.SetGoogleLink(ctx, e.ID, out.GoogleID, out.Link)
		}
		if err != nil {
			res.Failed++
			m.logger.Error("Failed to export event", "id", e.ID, "title", e.Title, "error", err)
			continue
		}
		res.Processed++
		m.logger.Info("Exported event to Google Calendar", "id", e.ID, "googleID", out.GoogleID)
	}

	if !update {
		return res, nil
	}

	linked := true
	events, err = m.store.ListEvents(ctx, store.ListOptions{Linked: &linked})
	if err != nil {
		return res, err
	}
	for _, e := range events {
		if err := m.calendar.UpdateEvent(ctx, e.GoogleCalendarID, e); err != nil {
			res.Failed++
			m.logger.Error("Failed to update Google event", "id", e.ID, "googleID", e.GoogleCalendarID, "error", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

// Cleanup deletes every event whose title matches pattern, case
// insensitively, along with its Google copy. With dryRun set it only
// reports the matches.
func (m *Maintainer) Cleanup(ctx context.Context, pattern string, dryRun bool) (Result, error) {
	var res Result
	if pattern == "" {
		return res, errors.New("cleanup pattern must not be empty")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return res, fmt.Errorf("invalid cleanup pattern: %w", err)
	}

	events, err := m.store.ListEvents(ctx, store.ListOptions{})
	if err != nil {
		return res, err
	}
	for _, e := range events {
		if !re.MatchString(e.Title) {
			continue
		}
		if dryRun {
			m.logger.Info("Would delete event", "id", e.ID, "title", e.Title)
			res.Processed++
			continue
		}
		if e.GoogleCalendarID != "" && m.calendar != nil {
			if err := m.calendar.DeleteEvent(ctx, e.GoogleCalendarID); err != nil {
				res.Failed++
				m.logger.Error("Failed to delete Google event", "id", e.ID, "googleID", e.GoogleCalendarID, "error", err)
				continue
			}
		}
		if err := m.store.DeleteEvent(ctx, e.ID); err != nil {
			res.Failed++
			m.logger.Error("Failed to delete event", "id", e.ID, "error", err)
			continue
		}
		res.Processed++
		m.logger.Info("Deleted event", "id", e.ID, "title", e.Title)
	}
	return res, nil
}
