package syncer

import (
	"context"
	"errors"
	"fmt"

	"eventsync/internal/google"
	"eventsync/internal/models"
	"eventsync/internal/notify"
	"eventsync/internal/store"
)

// Action is what reconciliation did with one changed event.
type Action string

const (
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionCreated   Action = "created"
	ActionDeleted   Action = "deleted"
	// ActionNotFound means no local event matched and none was created.
	ActionNotFound Action = "not_found"
)

// ItemResult is the outcome of reconciling one changed event. Err is set
// when Action was attempted and failed.
type ItemResult struct {
	GoogleID string
	Action   Action
	Err      error
}

// Report collects the outcome of a reconciliation pass.
type Report struct {
	Items    []ItemResult
	Resynced bool
}

// Count returns the number of successful items with the given action.
func (r Report) Count(a Action) int {
	n := 0
	for _, it := range r.Items {
		if it.Action == a && it.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of items whose action failed.
func (r Report) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Reconcile applies changes to the event store in order. A failure on one
// change is recorded in its ItemResult and does not stop the pass.
func (s *Syncer) Reconcile(ctx context.Context, changes []google.Change) Report {
	report := Report{Items: make([]ItemResult, 0, len(changes))}
	for _, ch := range changes {
		res := s.apply(ctx, ch)
		if res.Err != nil {
			s.logger.Error("Failed to reconcile event", "googleID", ch.GoogleID, "action", res.Action, "error", res.Err)
		}
		report.Items = append(report.Items, res)
	}
	return report
}

func (s *Syncer) apply(ctx context.Context, ch google.Change) ItemResult {
	res := ItemResult{GoogleID: ch.GoogleID}

	if ch.Cancelled() {
		res.Action = ActionDeleted
		deleted, err := s.events.DeleteByGoogleID(ctx, ch.GoogleID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res.Action = ActionNotFound
		case err != nil:
			res.Err = err
		default:
			s.logger.Info("Deleted cancelled event", "googleID", ch.GoogleID, "title", deleted.Title)
			s.notifyChange(ctx, *deleted, notify.ChangeCancelled)
		}
		return res
	}

	existing, err := s.events.FindByGoogleID(ctx, ch.GoogleID)
	if errors.Is(err, store.ErrNotFound) {
		if !s.opts.CreateOnMiss {
			s.logger.Debug("No local event for changed Google event", "googleID", ch.GoogleID)
			res.Action = ActionNotFound
			return res
		}
		res.Action = ActionCreated
		res.Err = s.create(ctx, ch)
		return res
	}
	if err != nil {
		res.Action = ActionUpdated
		res.Err = err
		return res
	}

	if !applyChange(existing, ch) {
		res.Action = ActionUnchanged
		return res
	}
	res.Action = ActionUpdated
	if err := s.events.ApplyRemoteChange(ctx, existing); err != nil {
		res.Err = err
		return res
	}
	s.logger.Info("Updated event from Google Calendar", "googleID", ch.GoogleID, "title", existing.Title)
	s.notifyChange(ctx, *existing, notify.ChangeUpdated)
	return res
}

func (s *Syncer) create(ctx context.Context, ch google.Change) error {
	if ch.Start == nil {
		return fmt.Errorf("cannot create event %s without a start time", ch.GoogleID)
	}
	e := &models.Event{
		GoogleCalendarID: ch.GoogleID,
		StartDate:        *ch.Start,
		EndDate:          ch.End,
		Status:           models.StatusDraft,
	}
	applyChange(e, ch)
	if err := s.events.CreateEvent(ctx, e); err != nil {
		return err
	}
	s.logger.Info("Created event from Google Calendar", "googleID", ch.GoogleID, "id", e.ID)
	return nil
}

// applyChange overwrites the fields of e present in ch and reports whether
// anything changed.
func applyChange(e *models.Event, ch google.Change) bool {
	changed := false
	if ch.Title != nil && *ch.Title != e.Title {
		e.Title = *ch.Title
		changed = true
	}
	if ch.Description != nil && *ch.Description != e.Description {
		e.Description = *ch.Description
		changed = true
	}
	if ch.Start != nil && !ch.Start.Equal(e.StartDate) {
		e.StartDate = *ch.Start
		changed = true
	}
	if ch.End != nil && (e.EndDate == nil || !ch.End.Equal(*e.EndDate)) {
		end := *ch.End
		e.EndDate = &end
		changed = true
	}
	return changed
}

func (s *Syncer) notifyChange(ctx context.Context, e models.Event, change notify.ChangeType) {
	if s.opts.Sender == nil {
		return
	}
	msg, err := notify.ChangeMessage(e, change)
	if errors.Is(err, notify.ErrNoRecipient) {
		s.logger.Debug("No organizer email for event", "id", e.ID)
		return
	}
	if err == nil {
		err = s.opts.Sender.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Error("Failed to send notification", "id", e.ID, "change", change, "error", err)
	}
}
