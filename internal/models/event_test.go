package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "draft", want: StatusDraft},
		{in: " Published ", want: StatusPublished},
		{in: "CANCELLED", want: StatusCancelled},
		{in: "confirmed", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventEndDefaultsToOneHour(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	e := Event{StartDate: start}
	assert.Equal(t, start.Add(time.Hour), e.End())

	end := start.Add(3 * time.Hour)
	e.EndDate = &end
	assert.Equal(t, end, e.End())
}

func TestEventLocationSkipsEmptyParts(t *testing.T) {
	e := Event{Venue: "La Cigale", Address: "", City: "Paris", Country: " France "}
	assert.Equal(t, "La Cigale, Paris, France", e.Location())
	assert.Equal(t, "", Event{}.Location())
}

func TestEventRegisteredAttendees(t *testing.T) {
	assert.Equal(t, 40, Event{Capacity: 100, AvailableSpots: 60}.RegisteredAttendees())
	assert.Equal(t, 0, Event{Capacity: 10, AvailableSpots: 20}.RegisteredAttendees())
}

func TestEventDueForReminder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"published within window", Event{Status: StatusPublished, StartDate: now.Add(23 * time.Hour)}, true},
		{"starts exactly now", Event{Status: StatusPublished, StartDate: now}, true},
		{"window edge", Event{Status: StatusPublished, StartDate: now.Add(window)}, true},
		{"already started", Event{Status: StatusPublished, StartDate: now.Add(-time.Minute)}, false},
		{"too far ahead", Event{Status: StatusPublished, StartDate: now.Add(25 * time.Hour)}, false},
		{"draft", Event{Status: StatusDraft, StartDate: now.Add(time.Hour)}, false},
		{"already reminded", Event{Status: StatusPublished, StartDate: now.Add(time.Hour), ReminderSent: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.DueForReminder(now, window))
		})
	}
}
