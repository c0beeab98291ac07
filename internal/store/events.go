package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventsync/internal/models"

	"github.com/google/uuid"
)

const eventColumns = `id, google_calendar_id, google_calendar_link, title, description,
	start_date, end_date, venue, address, city, country, status, reminder_sent,
	organizer_email, organizer_name, capacity, available_spots, created_at, updated_at`

// ListOptions narrows List results. Zero values mean "any".
type ListOptions struct {
	Status models.Status
	// Linked filters on whether the event has a Google Calendar id.
	Linked *bool
}

// CreateEvent inserts a new event. An empty ID is replaced with a UUID.
func (s *Store) CreateEvent(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.StatusDraft
	}
	now := time.Now().UTC().Truncate(time.Second)
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventArgs(e)...)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given internal id.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// FindByGoogleID returns the event linked to a Google Calendar event id.
func (s *Store) FindByGoogleID(ctx context.Context, googleID string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE google_calendar_id = ?`, googleID)
	return scanEvent(row)
}

// UpdateEvent overwrites every mutable column of an existing event.
func (s *Store) UpdateEvent(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	var end sql.NullString
	if e.EndDate != nil {
		end = sql.NullString{String: formatTime(*e.EndDate), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			google_calendar_id = ?, google_calendar_link = ?, title = ?, description = ?,
			start_date = ?, end_date = ?, venue = ?, address = ?, city = ?, country = ?,
			status = ?, reminder_sent = ?, organizer_email = ?, organizer_name = ?,
			capacity = ?, available_spots = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(e.GoogleCalendarID), nullString(e.GoogleCalendarLink), e.Title, e.Description,
		formatTime(e.StartDate), end, e.Venue, e.Address, e.City, e.Country,
		string(e.Status), e.ReminderSent, e.OrganizerEmail, e.OrganizerName,
		e.Capacity, e.AvailableSpots, formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return requireAffected(res)
}

// ApplyRemoteChange writes the calendar-owned columns (title, description,
// start and end) of the event linked to e.GoogleCalendarID. Local columns
// such as status and reminder_sent are left untouched.
func (s *Store) ApplyRemoteChange(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	var end sql.NullString
	if e.EndDate != nil {
		end = sql.NullString{String: formatTime(*e.EndDate), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET title = ?, description = ?, start_date = ?, end_date = ?, updated_at = ?
		WHERE google_calendar_id = ?
	`, e.Title, e.Description, formatTime(e.StartDate), end, formatTime(e.UpdatedAt), e.GoogleCalendarID)
	if err != nil {
		return fmt.Errorf("failed to apply remote change: %w", err)
	}
	return requireAffected(res)
}

// DeleteEvent removes an event by internal id.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return requireAffected(res)
}

// DeleteByGoogleID removes the event linked to googleID and returns it.
// It returns ErrNotFound when no event is linked.
func (s *Store) DeleteByGoogleID(ctx context.Context, googleID string) (*models.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE google_calendar_id = ?`, googleID)
	e, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, e.ID); err != nil {
		return nil, fmt.Errorf("failed to delete event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return e, nil
}

// SetGoogleLink records the Google Calendar id and link of an exported event.
func (s *Store) SetGoogleLink(ctx context.Context, id, googleID, link string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET google_calendar_id = ?, google_calendar_link = ?, updated_at = ?
		WHERE id = ?
	`, nullString(googleID), nullString(link), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set google link: %w", err)
	}
	return requireAffected(res)
}

// MarkReminderSent flips the reminder flag of an event.
func (s *Store) MarkReminderSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET reminder_sent = 1, updated_at = ? WHERE id = ?
	`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return requireAffected(res)
}

// DueReminders returns published events starting in [from, to] whose
// reminder has not been sent, ordered by start date.
func (s *Store) DueReminders(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = ? AND start_date >= ? AND start_date <= ? AND reminder_sent = 0
		ORDER BY start_date
	`, string(models.StatusPublished), formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return scanEvents(rows)
}

// ListEvents returns events matching opts, ordered by start date.
func (s *Store) ListEvents(ctx context.Context, opts ListOptions) ([]models.Event, error) {
	var where []string
	var args []any
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Linked != nil {
		if *opts.Linked {
			where = append(where, "google_calendar_id IS NOT NULL")
		} else {
			where = append(where, "google_calendar_id IS NULL")
		}
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return scanEvents(rows)
}

func eventArgs(e *models.Event) []any {
	var end sql.NullString
	if e.EndDate != nil {
		end = sql.NullString{String: formatTime(*e.EndDate), Valid: true}
	}
	return []any{
		e.ID, nullString(e.GoogleCalendarID), nullString(e.GoogleCalendarLink), e.Title, e.Description,
		formatTime(e.StartDate), end, e.Venue, e.Address, e.City, e.Country, string(e.Status), e.ReminderSent,
		e.OrganizerEmail, e.OrganizerName, e.Capacity, e.AvailableSpots,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                       models.Event
		googleID, googleLink    sql.NullString
		start, created, updated string
		end                     sql.NullString
		status                  string
	)
	err := row.Scan(
		&e.ID, &googleID, &googleLink, &e.Title, &e.Description,
		&start, &end, &e.Venue, &e.Address, &e.City, &e.Country, &status, &e.ReminderSent,
		&e.OrganizerEmail, &e.OrganizerName, &e.Capacity, &e.AvailableSpots, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.GoogleCalendarID = googleID.String
	e.GoogleCalendarLink = googleLink.String
	e.Status = models.Status(status)
	if e.StartDate, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("invalid start_date for event %s: %w", e.ID, err)
	}
	if end.Valid {
		t, err := parseTime(end.String)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date for event %s: %w", e.ID, err)
		}
		e.EndDate = &t
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at for event %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("invalid updated_at for event %s: %w", e.ID, err)
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer func() { _ = rows.Close() }()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
