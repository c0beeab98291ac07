package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"eventsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var fixedNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	c := NewClientWithService(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, "", "")
	c.now = func() time.Time { return fixedNow }
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeAPIError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"domain":"calendar","reason":%q}]}}`, status, reason, reason)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), slog.Default(), Credentials{})
	assert.Error(t, err)
}

func TestNewClientWithServiceDefaults(t *testing.T) {
	c := NewClientWithService(slog.Default(), nil, "", "")
	assert.Equal(t, "primary", c.CalendarID())
	assert.Equal(t, "Europe/Paris", c.timeZone)
}

func TestExportEventMapsFields(t *testing.T) {
	start := time.Date(2026, 6, 21, 19, 0, 0, 0, time.UTC)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)

		var got calendar.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Fête de la musique", got.Summary)
		assert.Equal(t, "Open air", got.Description)
		assert.Equal(t, "Place de la République, Paris, France", got.Location)
		assert.Equal(t, "2026-06-21T19:00:00Z", got.Start.DateTime)
		assert.Equal(t, "2026-06-21T20:00:00Z", got.End.DateTime)
		assert.Equal(t, "Europe/Paris", got.Start.TimeZone)
		assert.Equal(t, "Europe/Paris", got.End.TimeZone)

		writeJSON(t, w, http.StatusOK, calendar.Event{Id: "g1", HtmlLink: "https://calendar.google.com/event?eid=g1"})
	})

	res, err := c.ExportEvent(context.Background(), models.Event{
		Title:       "Fête de la musique",
		Description: "Open air",
		StartDate:   start,
		Venue:       "Place de la République",
		City:        "Paris",
		Country:     "France",
	})
	require.NoError(t, err)
	assert.Equal(t, ExportResult{GoogleID: "g1", Link: "https://calendar.google.com/event?eid=g1"}, res)
}

func TestExportEventError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusForbidden, "forbidden")
	})

	_, err := c.ExportEvent(context.Background(), models.Event{Title: "x", StartDate: fixedNow})
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "insert", gerr.Op)
	assert.Equal(t, http.StatusForbidden, gerr.Code)
}

func TestUpdateEventOverwrites(t *testing.T) {
	start := time.Date(2026, 6, 21, 19, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events/g1"), r.URL.Path)

		var got calendar.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Renamed", got.Summary)
		assert.Equal(t, "2026-06-21T22:00:00Z", got.End.DateTime)
		writeJSON(t, w, http.StatusOK, calendar.Event{Id: "g1"})
	})

	require.NoError(t, c.UpdateEvent(context.Background(), "g1", models.Event{Title: "Renamed", StartDate: start, EndDate: &end}))
}

func TestDeleteEventIsIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusNoContent, false},
		{"not found", http.StatusNotFound, false},
		{"already gone", http.StatusGone, false},
		{"forbidden", http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodDelete, r.Method)
				if tt.status == http.StatusNoContent {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				writeAPIError(w, tt.status, "failed")
			})

			err := c.DeleteEvent(context.Background(), "g1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListChangesFollowsPagination(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		q := r.URL.Query()
		assert.Equal(t, "tok1", q.Get("syncToken"))
		assert.Empty(t, q.Get("timeMin"))

		switch q.Get("pageToken") {
		case "":
			writeJSON(t, w, http.StatusOK, calendar.Events{
				Items:         []*calendar.Event{{Id: "a", Status: "confirmed", Summary: "A"}},
				NextPageToken: "p2",
			})
		case "p2":
			writeJSON(t, w, http.StatusOK, calendar.Events{
				Items:         []*calendar.Event{{Id: "b", Status: "cancelled"}},
				NextSyncToken: "tok2",
			})
		default:
			t.Fatalf("unexpected page token %q", q.Get("pageToken"))
		}
	})

	changes, err := c.ListChanges(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "tok2", changes.NextSyncToken)
	assert.False(t, changes.Resynced)
	require.Len(t, changes.Changes, 2)
	assert.Equal(t, "a", changes.Changes[0].GoogleID)
	require.NotNil(t, changes.Changes[0].Title)
	assert.Equal(t, "A", *changes.Changes[0].Title)
	assert.True(t, changes.Changes[1].Cancelled())
}

func TestListChangesWithoutCursorStartsNow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Empty(t, q.Get("syncToken"))
		assert.Equal(t, "2026-04-01T08:00:00Z", q.Get("timeMin"))
		writeJSON(t, w, http.StatusOK, calendar.Events{NextSyncToken: "fresh"})
	})

	changes, err := c.ListChanges(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, changes.Changes)
	assert.Equal(t, "fresh", changes.NextSyncToken)
}

func TestListChangesResyncsOnceWhenCursorExpired(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("syncToken") == "stale" {
			writeAPIError(w, http.StatusGone, "fullSyncRequired")
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("timeMin"))
		writeJSON(t, w, http.StatusOK, calendar.Events{
			Items:         []*calendar.Event{{Id: "a", Status: "confirmed"}},
			NextSyncToken: "fresh",
		})
	})

	changes, err := c.ListChanges(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.True(t, changes.Resynced)
	assert.Equal(t, "fresh", changes.NextSyncToken)
	assert.Len(t, changes.Changes, 1)
}

func TestListChangesStopsAfterOneResync(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusGone, "fullSyncRequired")
	})

	_, err := c.ListChanges(context.Background(), "stale")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCursorExpired)
	assert.True(t, IsGone(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListChangesTransientError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusForbidden, "rateLimitExceeded")
	})

	_, err := c.ListChanges(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCursorExpired)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWithCursorReset(t *testing.T) {
	t.Run("no error", func(t *testing.T) {
		var seen []string
		_, resets, err := withCursorReset("c", 1, func(cursor string) (Changes, error) {
			seen = append(seen, cursor)
			return Changes{}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, resets)
		assert.Equal(t, []string{"c"}, seen)
	})

	t.Run("always expired", func(t *testing.T) {
		var seen []string
		_, resets, err := withCursorReset("c", 1, func(cursor string) (Changes, error) {
			seen = append(seen, cursor)
			return Changes{}, ErrCursorExpired
		})
		assert.ErrorIs(t, err, ErrCursorExpired)
		assert.Equal(t, 1, resets)
		assert.Equal(t, []string{"c", ""}, seen)
	})

	t.Run("zero resets", func(t *testing.T) {
		calls := 0
		_, _, err := withCursorReset("c", 0, func(string) (Changes, error) {
			calls++
			return Changes{}, ErrCursorExpired
		})
		assert.ErrorIs(t, err, ErrCursorExpired)
		assert.Equal(t, 1, calls)
	})
}

func TestToChangeKeepsOnlyPresentFields(t *testing.T) {
	ch := toChange(&calendar.Event{Id: "g1", Status: "confirmed"})
	assert.Nil(t, ch.Title)
	assert.Nil(t, ch.Description)
	assert.Nil(t, ch.Start)
	assert.Nil(t, ch.End)
	assert.False(t, ch.Cancelled())

	ch = toChange(&calendar.Event{
		Id:          "g2",
		Status:      "confirmed",
		Summary:     "Standup",
		Description: "Daily",
		Start:       &calendar.EventDateTime{DateTime: "2026-04-02T09:00:00+02:00"},
		End:         &calendar.EventDateTime{Date: "2026-04-03"},
	})
	require.NotNil(t, ch.Title)
	assert.Equal(t, "Standup", *ch.Title)
	require.NotNil(t, ch.Description)
	require.NotNil(t, ch.Start)
	assert.True(t, ch.Start.Equal(time.Date(2026, 4, 2, 7, 0, 0, 0, time.UTC)))
	require.NotNil(t, ch.End)
	assert.True(t, ch.End.Equal(time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)))
}

func TestWatchRegistersChannel(t *testing.T) {
	ttl := 7 * 24 * time.Hour
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events/watch"), r.URL.Path)

		var req calendar.Channel
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Id)
		assert.Equal(t, "web_hook", req.Type)
		assert.Equal(t, "https://api.example.com/webhook/google-calendar-sync", req.Address)
		assert.Equal(t, "s3cret", req.Token)
		assert.Equal(t, fixedNow.Add(ttl).UnixMilli(), req.Expiration)

		writeJSON(t, w, http.StatusOK, calendar.Channel{
			Id:         req.Id,
			ResourceId: "res-1",
			Expiration: fixedNow.Add(24 * time.Hour).UnixMilli(),
		})
	})

	ch, err := c.Watch(context.Background(), "https://api.example.com/webhook/google-calendar-sync", ttl, "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "res-1", ch.ResourceID)
	assert.True(t, ch.Expiration.Equal(fixedNow.Add(24*time.Hour)))
}

func TestStopWatching(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"stopped", http.StatusNoContent, false},
		{"unknown channel", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.True(t, strings.HasSuffix(r.URL.Path, "/channels/stop"), r.URL.Path)
				var req calendar.Channel
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "c1", req.Id)
				assert.Equal(t, "r1", req.ResourceId)
				if tt.status == http.StatusNoContent {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				writeAPIError(w, tt.status, "failed")
			})

			err := c.StopWatching(context.Background(), "c1", "r1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListCalendars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/users/me/calendarList"), r.URL.Path)
		writeJSON(t, w, http.StatusOK, calendar.CalendarList{
			Items: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Events"}, {Id: "team@example.com", Summary: "Team"}},
		})
	})

	cals, err := c.ListCalendars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"primary": "Events", "team@example.com": "Team"}, cals)
}
