package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusPublished, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown event status %q", s)
	}
}

// DefaultDuration is used when an event has no end time.
const DefaultDuration = time.Hour

// Event represents an event record of the booking platform.
// It is independent of any specific calendar provider.
type Event struct {
	ID                 string     // Internal identifier, assigned by the store
	GoogleCalendarID   string     // Google Calendar event id, empty when not linked
	GoogleCalendarLink string     // Browsable link returned by Google Calendar
	Title              string     // Summary or title of the event
	Description        string     // Detailed description of the event
	StartDate          time.Time  // Start time of the event
	EndDate            *time.Time // End time of the event, nil when open-ended
	Venue              string     // Venue name
	Address            string
	City               string
	Country            string
	Status             Status
	ReminderSent       bool   // Set once the organizer reminder went out
	OrganizerEmail     string // Recipient of reminders and change notifications
	OrganizerName      string
	Capacity           int
	AvailableSpots     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// End returns the end time, falling back to start + DefaultDuration.
func (e Event) End() time.Time {
	if e.EndDate != nil {
		return *e.EndDate
	}
	return e.StartDate.Add(DefaultDuration)
}

// Location joins the non-empty location parts with ", ".
func (e Event) Location() string {
	var parts []string
	for _, p := range []string{e.Venue, e.Address, e.City, e.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// RegisteredAttendees is the number of spots already taken.
func (e Event) RegisteredAttendees() int {
	n := e.Capacity - e.AvailableSpots
	if n < 0 {
		return 0
	}
	return n
}

// DueForReminder reports whether the event should get an organizer reminder
// at now, given a look-ahead window.
func (e Event) DueForReminder(now time.Time, window time.Duration) bool {
	if e.Status != StatusPublished || e.ReminderSent {
		return false
	}
	return !e.StartDate.Before(now) && !e.StartDate.After(now.Add(window))
}
