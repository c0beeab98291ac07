package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
)

const (
	maxResults = 250 // Google Calendar API max per page

	// maxCursorResets bounds the full-resync retries after an expired sync token.
	maxCursorResets = 1

	statusCancelled = "cancelled"
)

// Change is one externally modified event. Nil fields were absent from the
// payload and must leave the local value untouched.
type Change struct {
	GoogleID    string
	Status      string
	Title       *string
	Description *string
	Start       *time.Time
	End         *time.Time
}

// Cancelled reports whether the event was deleted or cancelled in Google Calendar.
func (c Change) Cancelled() bool {
	return c.Status == statusCancelled
}

// Changes is the result of a delta fetch.
type Changes struct {
	Changes       []Change
	NextSyncToken string
	// Resynced is set when the given cursor had expired and the changes
	// come from a full resynchronization starting now.
	Resynced bool
}

// ListChanges fetches the events changed since cursor. An empty cursor
// fetches events from now forward. An expired cursor is replaced by a
// single full resynchronization.
func (c *CalendarClient) ListChanges(ctx context.Context, cursor string) (Changes, error) {
	changes, resets, err := withCursorReset(cursor, maxCursorResets, func(token string) (Changes, error) {
		return c.listChanges(ctx, token)
	})
	if resets > 0 {
		c.logger.Warn("Sync token expired, performed full resync", "resets", resets, "error", err)
	}
	if err != nil {
		return Changes{}, err
	}
	changes.Resynced = resets > 0
	return changes, nil
}

// withCursorReset calls fetch with cursor and, while fetch reports an
// expired cursor, retries with an empty cursor at most maxResets times.
// It returns the number of resets performed.
func withCursorReset(cursor string, maxResets int, fetch func(cursor string) (Changes, error)) (Changes, int, error) {
	resets := 0
	for {
		changes, err := fetch(cursor)
		if !errors.Is(err, ErrCursorExpired) || resets >= maxResets {
			return changes, resets, err
		}
		cursor = ""
		resets++
	}
}

func (c *CalendarClient) listChanges(ctx context.Context, syncToken string) (Changes, error) {
	call := c.service.Events.List(c.calendarID).
		MaxResults(maxResults).
		Context(ctx)

	if syncToken != "" {
		c.logger.Debug("Fetching incremental changes", "calendarID", c.calendarID)
		call = call.SyncToken(syncToken)
	} else {
		c.logger.Debug("Fetching changes from now", "calendarID", c.calendarID)
		call = call.TimeMin(c.now().UTC().Format(time.RFC3339))
	}

	var result Changes
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			wrapped := wrapError("list changes", err)
			if IsGone(wrapped) {
				return Changes{}, &Error{Op: "list changes", Code: statusCode(wrapped), Err: fmt.Errorf("%w: %w", ErrCursorExpired, err)}
			}
			return Changes{}, wrapped
		}

		for _, item := range events.Items {
			result.Changes = append(result.Changes, toChange(item))
		}

		pageToken = events.NextPageToken
		if pageToken == "" {
			result.NextSyncToken = events.NextSyncToken
			break
		}
	}

	c.logger.Info("Fetched changed events from Google Calendar", "count", len(result.Changes), "calendarID", c.calendarID)
	return result, nil
}

// toChange converts a Google Calendar event into a Change, keeping only the
// fields present in the payload.
func toChange(item *calendar.Event) Change {
	ch := Change{GoogleID: item.Id, Status: item.Status}
	if item.Summary != "" {
		s := item.Summary
		ch.Title = &s
	}
	if item.Description != "" {
		d := item.Description
		ch.Description = &d
	}
	ch.Start = parseEventDateTime(item.Start)
	ch.End = parseEventDateTime(item.End)
	return ch
}

func parseEventDateTime(dt *calendar.EventDateTime) *time.Time {
	if dt == nil {
		return nil
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return &t
		}
		return nil
	}
	if dt.Date != "" {
		// All-day events carry a date only.
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		if t, err := time.ParseInLocation("2006-01-02", dt.Date, loc); err == nil {
			return &t
		}
	}
	return nil
}
