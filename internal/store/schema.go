package store

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	google_calendar_id TEXT UNIQUE,
	google_calendar_link TEXT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_date TEXT NOT NULL,
	end_date TEXT,
	venue TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft' CHECK(status IN ('draft', 'published', 'cancelled')),
	reminder_sent INTEGER NOT NULL DEFAULT 0,
	organizer_email TEXT NOT NULL DEFAULT '',
	organizer_name TEXT NOT NULL DEFAULT '',
	capacity INTEGER NOT NULL DEFAULT 0,
	available_spots INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_reminder ON events(status, reminder_sent, start_date);

CREATE TABLE IF NOT EXISTS sync_state (
	service TEXT PRIMARY KEY,
	sync_token TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watch_channels (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	address TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	stopped_at TEXT
);
`

// InitSchema creates the tables if they do not exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
