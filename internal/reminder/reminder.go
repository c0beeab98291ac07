package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventsync/internal/models"
	"eventsync/internal/notify"
)

const (
	DefaultInterval = time.Hour
	DefaultWindow   = 24 * time.Hour
)

// Store is the part of the event store the scheduler needs.
type Store interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]models.Event, error)
	MarkReminderSent(ctx context.Context, id string) error
}

// Outcome is what a sweep did with one event.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped" // no organizer email
	OutcomeFailed  Outcome = "failed"
)

type Result struct {
	EventID string
	Outcome Outcome
	Err     error
}

// Report collects the results of one sweep.
type Report struct {
	Results []Result
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Scheduler sends organizers a single reminder before their event starts.
type Scheduler struct {
	logger   *slog.Logger
	store    Store
	sender   notify.Sender
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler. Non-positive durations fall back to
// DefaultInterval and DefaultWindow.
func NewScheduler(logger *slog.Logger, store Store, sender notify.Sender, interval, window time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		logger:   logger,
		store:    store,
		sender:   sender,
		interval: interval,
		window:   window,
		now:      time.Now,
	}
}

// Sweep notifies the organizer of every published event starting within
// the window after now whose reminder has not been sent yet. A failure on
// one event is recorded and the sweep moves on.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (Report, error) {
	// Stored timestamps have second precision.
	now = now.Truncate(time.Second)
	events, err := s.store.DueReminders(ctx, now, now.Add(s.window))
	if err != nil {
		return Report{}, fmt.Errorf("failed to load due reminders: %w", err)
	}

	var report Report
	for _, e := range events {
		if !e.DueForReminder(now, s.window) {
			continue
		}
		res := s.remind(ctx, e)
		if res.Err != nil {
			s.logger.Error("Failed to send reminder", "id", e.ID, "title", e.Title, "error", res.Err)
		}
		report.Results = append(report.Results, res)
	}

	s.logger.Info("Reminder sweep finished",
		"due", len(events),
		"sent", report.Count(OutcomeSent),
		"skipped", report.Count(OutcomeSkipped),
		"failed", report.Count(OutcomeFailed),
	)
	return report, nil
}

func (s *Scheduler) remind(ctx context.Context, e models.Event) Result {
	res := Result{EventID: e.ID, Outcome: OutcomeSent}

	msg, err := notify.ReminderMessage(e)
	switch {
	case errors.Is(err, notify.ErrNoRecipient):
		s.logger.Warn("Event has no organizer email, marking reminder as sent", "id", e.ID)
		res.Outcome = OutcomeSkipped
	case err != nil:
		return Result{EventID: e.ID, Outcome: OutcomeFailed, Err: err}
	default:
		if err := s.sender.Send(ctx, msg); err != nil {
			return Result{EventID: e.ID, Outcome: OutcomeFailed, Err: err}
		}
	}

	if err := s.store.MarkReminderSent(ctx, e.ID); err != nil {
		return Result{EventID: e.ID, Outcome: OutcomeFailed, Err: fmt.Errorf("failed to persist reminder flag: %w", err)}
	}
	return res
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting reminder scheduler", "interval", s.interval, "window", s.window)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.logger.Error("Reminder sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
