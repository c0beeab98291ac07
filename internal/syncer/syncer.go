package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventsync/internal/google"
	"eventsync/internal/models"
	"eventsync/internal/notify"
	"eventsync/internal/store"
)

// Resource states sent by Google in the X-Goog-Resource-State header.
const (
	StateSync   = "sync"
	StateExists = "exists"
)

// DefaultWatchTTL is the horizon requested for a new watch channel.
const DefaultWatchTTL = 7 * 24 * time.Hour

// dispatchTimeout bounds one background reconciliation.
const dispatchTimeout = 5 * time.Minute

// ChangeSource is the calendar side of the synchronization.
type ChangeSource interface {
	ListChanges(ctx context.Context, cursor string) (google.Changes, error)
	Watch(ctx context.Context, callbackURL string, ttl time.Duration, token string) (google.Channel, error)
	StopWatching(ctx context.Context, channelID, resourceID string) error
}

// EventStore is the local side of the synchronization.
type EventStore interface {
	FindByGoogleID(ctx context.Context, googleID string) (*models.Event, error)
	CreateEvent(ctx context.Context, e *models.Event) error
	ApplyRemoteChange(ctx context.Context, e *models.Event) error
	DeleteByGoogleID(ctx context.Context, googleID string) (*models.Event, error)
}

// ChannelStore keeps track of registered watch channels.
type ChannelStore interface {
	SaveChannel(ctx context.Context, ch store.Channel) error
	ActiveChannel(ctx context.Context) (*store.Channel, error)
	MarkChannelStopped(ctx context.Context, id string, at time.Time) error
}

// Options configure a Syncer.
type Options struct {
	// CallbackURL receives push notifications for new watch channels.
	CallbackURL string
	WatchTTL    time.Duration
	// ChannelToken, when set, is attached to new channels and required on
	// incoming notifications.
	ChannelToken string
	// CreateOnMiss creates local drafts for external events never seen before.
	CreateOnMiss bool
	// Sender, when set, emails organizers about reconciled updates and cancellations.
	Sender notify.Sender
}

// Notification is an inbound push notification.
type Notification struct {
	ResourceState string
	ChannelID     string
	ResourceID    string
	ChannelToken  string
}

// Syncer keeps the event store consistent with Google Calendar.
type Syncer struct {
	logger   *slog.Logger
	source   ChangeSource
	events   EventStore
	cursor   store.CursorStore
	channels ChannelStore
	opts     Options
	now      func() time.Time

	// mu serializes delta runs; the syncer is the single writer of the cursor.
	mu sync.Mutex

	// dispatchMu guards closed and orders wg.Add before wg.Wait.
	dispatchMu sync.Mutex
	closed     bool
	wg         sync.WaitGroup
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, source ChangeSource, events EventStore, cursor store.CursorStore, channels ChannelStore, opts Options) *Syncer {
	if opts.WatchTTL <= 0 {
		opts.WatchTTL = DefaultWatchTTL
	}
	return &Syncer{
		logger:   logger,
		source:   source,
		events:   events,
		cursor:   cursor,
		channels: channels,
		opts:     opts,
		now:      time.Now,
	}
}

// HandleNotification reacts to one push notification.
func (s *Syncer) HandleNotification(ctx context.Context, n Notification) error {
	if s.opts.ChannelToken != "" && n.ChannelToken != s.opts.ChannelToken {
		s.logger.Warn("Ignoring notification with unexpected channel token", "channelID", n.ChannelID)
		return nil
	}

	switch n.ResourceState {
	case StateSync:
		s.logger.Info("Webhook sync confirmed", "channelID", n.ChannelID)
		return nil
	case StateExists:
		_, err := s.Sync(ctx)
		return err
	default:
		s.logger.Debug("Ignoring notification", "state", n.ResourceState, "channelID", n.ChannelID)
		return nil
	}
}

// Dispatch handles n on a background goroutine so the caller can
// acknowledge the notification immediately. Notifications arriving after
// Wait has been called are dropped.
func (s *Syncer) Dispatch(n Notification) {
	s.dispatchMu.Lock()
	if s.closed {
		s.dispatchMu.Unlock()
		s.logger.Warn("Dropping notification after shutdown", "state", n.ResourceState, "channelID", n.ChannelID)
		return
	}
	s.wg.Add(1)
	s.dispatchMu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := s.HandleNotification(ctx, n); err != nil {
			s.logger.Error("Google webhook error", "state", n.ResourceState, "error", err)
		}
	}()
}

// Wait stops accepting dispatches and blocks until every notification
// already dispatched has been handled.
func (s *Syncer) Wait() {
	s.dispatchMu.Lock()
	s.closed = true
	s.dispatchMu.Unlock()
	s.wg.Wait()
}

// Sync performs one delta fetch, reconciles it and advances the cursor.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Starting sync cycle.")

	cur, err := s.cursor.LoadCursor(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	changes, err := s.source.ListChanges(ctx, cur.Token)
	if err != nil {
		return Report{}, fmt.Errorf("failed to fetch changed events: %w", err)
	}

	report := s.Reconcile(ctx, changes.Changes)
	report.Resynced = changes.Resynced

	if _, err := s.cursor.SwapCursor(ctx, cur, changes.NextSyncToken); err != nil {
		return report, fmt.Errorf("failed to advance sync cursor: %w", err)
	}

	s.logger.Info("Sync cycle finished.",
		"changes", len(report.Items),
		"updated", report.Count(ActionUpdated),
		"created", report.Count(ActionCreated),
		"deleted", report.Count(ActionDeleted),
		"failed", report.Failed(),
		"resynced", report.Resynced,
	)
	return report, nil
}

// Poll runs Sync every interval until ctx is cancelled.
func (s *Syncer) Poll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sync(ctx); err != nil {
			s.logger.Error("Sync cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RenewWatch registers a fresh watch channel and stops the previous one.
func (s *Syncer) RenewWatch(ctx context.Context) (google.Channel, error) {
	if s.opts.CallbackURL == "" {
		return google.Channel{}, errors.New("no callback URL configured for watch channels")
	}

	prev, err := s.channels.ActiveChannel(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Could not load previous watch channel", "error", err)
	}

	ch, err := s.source.Watch(ctx, s.opts.CallbackURL, s.opts.WatchTTL, s.opts.ChannelToken)
	if err != nil {
		return google.Channel{}, fmt.Errorf("failed to register watch channel: %w", err)
	}

	err = s.channels.SaveChannel(ctx, store.Channel{
		ID:         ch.ID,
		ResourceID: ch.ResourceID,
		Address:    ch.Address,
		Expiration: ch.Expiration,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Error("Failed to record watch channel", "channelID", ch.ID, "error", err)
	}

	if prev != nil && prev.ID != ch.ID {
		if err := s.source.StopWatching(ctx, prev.ID, prev.ResourceID); err != nil {
			s.logger.Warn("Failed to stop previous watch channel", "channelID", prev.ID, "error", err)
		} else if err := s.channels.MarkChannelStopped(ctx, prev.ID, s.now()); err != nil {
			s.logger.Warn("Failed to record stopped watch channel", "channelID", prev.ID, "error", err)
		}
	}

	return ch, nil
}
