package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Channel is a push-notification subscription registered with the calendar
// provider.
type Channel struct {
	ID         string
	ResourceID string
	Address    string
	Expiration time.Time
	CreatedAt  time.Time
	StoppedAt  *time.Time
}

// Expired reports whether the channel no longer delivers notifications at now.
func (c Channel) Expired(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// SaveChannel records a newly registered channel.
func (s *Store) SaveChannel(ctx context.Context, ch Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_channels (id, resource_id, address, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ch.ID, ch.ResourceID, ch.Address, formatTime(ch.Expiration), formatTime(ch.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save watch channel: %w", err)
	}
	return nil
}

// ActiveChannel returns the most recently created channel that was not stopped.
func (s *Store) ActiveChannel(ctx context.Context) (*Channel, error) {
	var (
		ch               Channel
		expires, created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, address, expires_at, created_at
		FROM watch_channels
		WHERE stopped_at IS NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&ch.ID, &ch.ResourceID, &ch.Address, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active channel: %w", err)
	}

	if ch.Expiration, err = parseTime(expires); err != nil {
		return nil, fmt.Errorf("invalid expires_at for channel %s: %w", ch.ID, err)
	}
	if ch.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at for channel %s: %w", ch.ID, err)
	}
	return &ch, nil
}

// MarkChannelStopped records that a channel was cancelled.
func (s *Store) MarkChannelStopped(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watch_channels SET stopped_at = ? WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark channel stopped: %w", err)
	}
	return requireAffected(res)
}
