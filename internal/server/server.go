package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"eventsync/internal/google"
	"eventsync/internal/ics"
	"eventsync/internal/models"
	"eventsync/internal/store"
	"eventsync/internal/syncer"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

// Syncer is the sync controller as seen by the HTTP layer.
type Syncer interface {
	Dispatch(n syncer.Notification)
	RenewWatch(ctx context.Context) (google.Channel, error)
	Wait()
}

// EventStore is the read side of the event store used by the feed and
// health endpoints.
type EventStore interface {
	ListEvents(ctx context.Context, opts store.ListOptions) ([]models.Event, error)
	Ping(ctx context.Context) error
}

// Server exposes the webhook callback, the admin watch trigger and the
// public calendar feed.
type Server struct {
	logger     *slog.Logger
	syncer     Syncer
	events     EventStore
	cronSecret string
	engine     *gin.Engine
	now        func() time.Time
}

func New(logger *slog.Logger, sync Syncer, events EventStore, cronSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:     logger,
		syncer:     sync,
		events:     events,
		cronSecret: cronSecret,
		engine:     gin.New(),
		now:        time.Now,
	}
	s.engine.Use(gin.Recovery(), requestLogger(logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/calendar.ics", s.calendarFeed)

	webhook := s.engine.Group("/webhook")
	{
		webhook.POST("/google-calendar-sync", s.googleCalendarSync)
		webhook.POST("/setup-google-watch", s.setupGoogleWatch)
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// and waits for background reconciliations to finish.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.syncer.Wait()
	return err
}

// googleCalendarSync acknowledges a Google push notification and
// reconciles in the background.
func (s *Server) googleCalendarSync(c *gin.Context) {
	n := syncer.Notification{
		ResourceState: c.GetHeader("X-Goog-Resource-State"),
		ChannelID:     c.GetHeader("X-Goog-Channel-ID"),
		ResourceID:    c.GetHeader("X-Goog-Resource-ID"),
		ChannelToken:  c.GetHeader("X-Goog-Channel-Token"),
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	s.syncer.Dispatch(n)
}

func (s *Server) setupGoogleWatch(c *gin.Context) {
	var in struct {
		Secret string `json:"secret"`
	}
	_ = c.ShouldBindJSON(&in)

	if !s.authorized(in.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "code": "UNAUTHORIZED"})
		return
	}

	ch, err := s.syncer.RenewWatch(c.Request.Context())
	if err != nil {
		s.logger.Error("Setup watch error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"id":         ch.ID,
		"resourceId": ch.ResourceID,
		"expiration": ch.Expiration.UTC().Format(time.RFC3339),
	})
}

// authorized compares the secret in constant time. An empty configured
// secret rejects every request.
func (s *Server) authorized(secret string) bool {
	if s.cronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.cronSecret)) == 1
}

func (s *Server) calendarFeed(c *gin.Context) {
	events, err := s.events.ListEvents(c.Request.Context(), store.ListOptions{Status: models.StatusPublished})
	if err != nil {
		s.logger.Error("Failed to list events for feed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to list events"})
		return
	}

	c.Header("Content-Type", "text/calendar; charset=utf-8")
	c.Status(http.StatusOK)
	if err := ics.Encode(c.Writer, events, s.now()); err != nil {
		s.logger.Error("Failed to encode calendar feed", "error", err)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.events.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requestLogger logs each request through slog instead of gin's default
// logger.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
