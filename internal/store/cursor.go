package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Cursor is the calendar sync checkpoint: an opaque provider token and the
// version it was written at. Version 0 means the cursor was never written.
type Cursor struct {
	Token   string
	Version int64
}

// CursorStore loads and conditionally replaces the sync cursor.
type CursorStore interface {
	LoadCursor(ctx context.Context) (Cursor, error)
	// SwapCursor writes token if the stored version still equals prev.Version.
	// It returns ErrCursorConflict otherwise.
	SwapCursor(ctx context.Context, prev Cursor, token string) (Cursor, error)
}

// SyncStateCursor keeps the cursor of one service in the sync_state table.
type SyncStateCursor struct {
	db      *sql.DB
	service string
}

// Cursor returns the durable cursor for service.
func (s *Store) Cursor(service string) *SyncStateCursor {
	return &SyncStateCursor{db: s.db, service: service}
}

// LoadCursor returns the stored cursor, or the zero Cursor when none has
// been saved yet.
func (c *SyncStateCursor) LoadCursor(ctx context.Context) (Cursor, error) {
	var cur Cursor
	err := c.db.QueryRowContext(ctx, `
		SELECT sync_token, version FROM sync_state WHERE service = ?
	`, c.service).Scan(&cur.Token, &cur.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	return cur, nil
}

// SwapCursor replaces prev with token and bumps the version. It returns
// ErrCursorConflict when the stored version no longer matches prev.
func (c *SyncStateCursor) SwapCursor(ctx context.Context, prev Cursor, token string) (Cursor, error) {
	now := formatTime(time.Now())

	var (
		res sql.Result
		err error
	)
	if prev.Version == 0 {
		res, err = c.db.ExecContext(ctx, `
			INSERT INTO sync_state (service, sync_token, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(service) DO NOTHING
		`, c.service, token, now)
	} else {
		res, err = c.db.ExecContext(ctx, `
			UPDATE sync_state SET sync_token = ?, version = version + 1, updated_at = ?
			WHERE service = ? AND version = ?
		`, token, now, c.service, prev.Version)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to swap sync cursor: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return Cursor{}, ErrCursorConflict
	}
	return Cursor{Token: token, Version: prev.Version + 1}, nil
}

// MemoryCursor is a process-local CursorStore. A restart loses the cursor
// and the next fetch starts from "now".
type MemoryCursor struct {
	mu  sync.Mutex
	cur Cursor
}

// LoadCursor returns the current cursor.
func (m *MemoryCursor) LoadCursor(context.Context) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

// SwapCursor behaves like SyncStateCursor.SwapCursor.
func (m *MemoryCursor) SwapCursor(_ context.Context, prev Cursor, token string) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Version != prev.Version {
		return Cursor{}, ErrCursorConflict
	}
	m.cur = Cursor{Token: token, Version: prev.Version + 1}
	return m.cur, nil
}
