package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"eventsync/internal/config"
	"eventsync/internal/google"
	"eventsync/internal/models"
	"eventsync/internal/store"
	"eventsync/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu         sync.Mutex
	dispatched []syncer.Notification
	renewals   int
	renewErr   error
	waited     bool
}

func (f *fakeSyncer) Dispatch(n syncer.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, n)
}

func (f *fakeSyncer) RenewWatch(context.Context) (google.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals++
	if f.renewErr != nil {
		return google.Channel{}, f.renewErr
	}
	return google.Channel{
		ID:         "chan-1",
		ResourceID: "res-1",
		Expiration: time.Date(2026, 4, 8, 8, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeSyncer) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = true
}

func setup(t *testing.T, secret string) (*Server, *fakeSyncer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fs := &fakeSyncer{}
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)), fs, st, secret)
	s.now = func() time.Time { return time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC) }
	return s, fs, st
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGoogleCalendarSyncAcknowledgesAndDispatches(t *testing.T) {
	s, fs, _ := setup(t, "")

	w := do(s, http.MethodPost, config.WebhookPath, "", map[string]string{
		"X-Goog-Resource-State": "exists",
		"X-Goog-Channel-ID":     "chan-1",
		"X-Goog-Resource-ID":    "res-1",
		"X-Goog-Channel-Token":  "tok",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	require.Len(t, fs.dispatched, 1)
	assert.Equal(t, syncer.Notification{
		ResourceState: "exists",
		ChannelID:     "chan-1",
		ResourceID:    "res-1",
		ChannelToken:  "tok",
	}, fs.dispatched[0])
}

func TestGoogleCalendarSyncAcknowledgesAnyState(t *testing.T) {
	s, fs, _ := setup(t, "")
	for _, state := range []string{"sync", "not_exists", ""} {
		w := do(s, http.MethodPost, config.WebhookPath, "", map[string]string{"X-Goog-Resource-State": state})
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Len(t, fs.dispatched, 3)
}

func TestSetupGoogleWatch(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		body       string
		renewErr   error
		wantStatus int
		wantBody   string
		wantRenew  int
	}{
		{
			name:       "valid secret",
			configured: "s3cret",
			body:       `{"secret":"s3cret"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"ok":true,"id":"chan-1","resourceId":"res-1","expiration":"2026-04-08T08:00:00Z"}`,
			wantRenew:  1,
		},
		{
			name:       "wrong secret",
			configured: "s3cret",
			body:       `{"secret":"guess"}`,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"ok":false,"code":"UNAUTHORIZED"}`,
		},
		{
			name:       "missing body",
			configured: "s3cret",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"ok":false,"code":"UNAUTHORIZED"}`,
		},
		{
			name:       "empty configured secret",
			configured: "",
			body:       `{"secret":""}`,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"ok":false,"code":"UNAUTHORIZED"}`,
		},
		{
			name:       "gateway failure",
			configured: "s3cret",
			body:       `{"secret":"s3cret"}`,
			renewErr:   errors.New("calendar API unavailable"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"ok":false,"error":"calendar API unavailable"}`,
			wantRenew:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs, _ := setup(t, tt.configured)
			fs.renewErr = tt.renewErr

			w := do(s, http.MethodPost, "/webhook/setup-google-watch", tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, tt.wantRenew, fs.renewals)
		})
	}
}

func TestCalendarFeed(t *testing.T) {
	s, _, st := setup(t, "")
	ctx := context.Background()
	for _, e := range []*models.Event{
		{Title: "Public show", StartDate: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC), Status: models.StatusPublished},
		{Title: "Secret draft", StartDate: time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC), Status: models.StatusDraft},
	} {
		require.NoError(t, st.CreateEvent(ctx, e))
	}

	w := do(s, http.MethodGet, "/calendar.ics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "SUMMARY:Public show")
	assert.NotContains(t, w.Body.String(), "Secret draft")
}

func TestHealth(t *testing.T) {
	s, _, st := setup(t, "")

	w := do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])

	require.NoError(t, st.Close())
	w = do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunShutsDownAndWaits(t *testing.T) {
	s, fs, _ := setup(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.True(t, fs.waited)
}
