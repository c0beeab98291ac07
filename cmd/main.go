package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eventsync/internal/config"
	"eventsync/internal/google"
	"eventsync/internal/notify"
	"eventsync/internal/store"
	"eventsync/internal/syncer"

	"github.com/urfave/cli/v2"
)

// cursorService names the sync_state row of the Google Calendar cursor.
const cursorService = "google-calendar"

func main() {
	app := &cli.App{
		Name:  "eventsync",
		Usage: "Keep the event database in sync with Google Calendar and remind organizers.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Load environment variables from `FILE` when it exists."},
		},
		Commands: []*cli.Command{
			serveCommand(),
			syncCommand(),
			watchCommand(),
			remindCommand(),
			exportCommand(),
			mirrorCommand(),
			cleanupCommand(),
			calendarsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// runtime bundles what every command needs.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)
	if cfg.IsDevelopment() {
		logger.Debug("Loaded configuration", "config", cfg)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, store: st}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("Failed to close event store", "error", err)
	}
}

func (r *runtime) googleClient(ctx context.Context) (*google.CalendarClient, error) {
	if !r.cfg.HasGoogleCredentials() {
		return nil, fmt.Errorf("GOOGLE_CLIENT_EMAIL and GOOGLE_PRIVATE_KEY must be set")
	}
	return google.NewClient(ctx, r.logger, google.Credentials{
		ClientEmail: r.cfg.GoogleClientEmail,
		PrivateKey:  r.cfg.GooglePrivateKey,
		CalendarID:  r.cfg.GoogleCalendarID,
		TimeZone:    r.cfg.GoogleTimeZone,
	})
}

// sender delivers through Brevo when a key is configured and logs otherwise.
func (r *runtime) sender() notify.Sender {
	if r.cfg.BrevoKey == "" {
		r.logger.Warn("BREVO_KEY not set, emails will only be logged")
		return notify.NewLogSender(r.logger)
	}
	from := notify.Recipient{Email: r.cfg.MailSenderEmail, Name: r.cfg.MailSenderName}
	return notify.NewBrevoSender(r.logger, r.cfg.BrevoKey, from, nil)
}

func (r *runtime) cursor() store.CursorStore {
	if r.cfg.CursorBackend == config.CursorMemory {
		return &store.MemoryCursor{}
	}
	return r.store.Cursor(cursorService)
}

func (r *runtime) newSyncer(source syncer.ChangeSource) *syncer.Syncer {
	opts := syncer.Options{
		CallbackURL:  r.cfg.CallbackURL(),
		WatchTTL:     r.cfg.WatchTTL,
		ChannelToken: r.cfg.ChannelToken,
		CreateOnMiss: r.cfg.SyncCreateOnMiss,
	}
	if r.cfg.SyncNotifyChanges {
		opts.Sender = r.sender()
	}
	return syncer.NewSyncer(r.logger, source, r.store, r.cursor(), r.store, opts)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
