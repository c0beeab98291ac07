package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Cursor backends.
const (
	CursorSQLite = "sqlite"
	CursorMemory = "memory"
)

// WebhookPath is where Google delivers push notifications.
const WebhookPath = "/webhook/google-calendar-sync"

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        int    `envconfig:"PORT" default:"8080"`
	DBPath      string `envconfig:"DB_PATH" default:"eventsync.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Google service account
	GoogleClientEmail string `envconfig:"GOOGLE_CLIENT_EMAIL"`
	GooglePrivateKey  string `envconfig:"GOOGLE_PRIVATE_KEY"`
	GoogleCalendarID  string `envconfig:"GOOGLE_CALENDAR_ID" default:"primary"`
	GoogleTimeZone    string `envconfig:"GOOGLE_TIMEZONE" default:"Europe/Paris"`

	// Webhook
	APIURL       string        `envconfig:"API_URL"`
	CronSecret   string        `envconfig:"CRON_SECRET"`
	WatchTTL     time.Duration `envconfig:"WATCH_TTL" default:"168h"`
	ChannelToken string        `envconfig:"WEBHOOK_CHANNEL_TOKEN"`

	// Sync
	CursorBackend     string `envconfig:"CURSOR_BACKEND" default:"sqlite"`
	SyncCreateOnMiss  bool   `envconfig:"SYNC_CREATE_ON_MISS" default:"false"`
	SyncNotifyChanges bool   `envconfig:"SYNC_NOTIFY_CHANGES" default:"false"`

	// Reminders
	ReminderInterval time.Duration `envconfig:"REMINDER_INTERVAL" default:"1h"`
	ReminderWindow   time.Duration `envconfig:"REMINDER_WINDOW" default:"24h"`

	// Email
	BrevoKey        string `envconfig:"BREVO_KEY"`
	MailSenderEmail string `envconfig:"MAIL_SENDER_EMAIL"`
	MailSenderName  string `envconfig:"MAIL_SENDER_NAME" default:"Events"`

	// CalDAV mirror
	CalDAVEndpoint     string `envconfig:"CALDAV_ENDPOINT"`
	CalDAVUsername     string `envconfig:"CALDAV_USERNAME"`
	CalDAVPassword     string `envconfig:"CALDAV_PASSWORD"`
	CalDAVCalendarName string `envconfig:"CALDAV_CALENDAR_NAME"`
}

// Load reads a .env file when present and then the process environment.
func Load(envFiles ...string) (Config, error) {
	// A missing .env file is not an error.
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values envconfig cannot check by itself.
func (c Config) Validate() error {
	switch c.CursorBackend {
	case CursorSQLite, CursorMemory:
	default:
		return fmt.Errorf("invalid CURSOR_BACKEND %q: want %q or %q", c.CursorBackend, CursorSQLite, CursorMemory)
	}
	if c.ReminderInterval <= 0 || c.ReminderWindow <= 0 {
		return errors.New("REMINDER_INTERVAL and REMINDER_WINDOW must be positive")
	}
	if c.WatchTTL <= 0 {
		return errors.New("WATCH_TTL must be positive")
	}
	if _, err := time.LoadLocation(c.GoogleTimeZone); err != nil {
		return fmt.Errorf("invalid GOOGLE_TIMEZONE '%s': %w", c.GoogleTimeZone, err)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// HasGoogleCredentials reports whether a service account is configured.
func (c Config) HasGoogleCredentials() bool {
	return c.GoogleClientEmail != "" && c.GooglePrivateKey != ""
}

// CallbackURL is the public address registered on new watch channels.
func (c Config) CallbackURL() string {
	if c.APIURL == "" {
		return ""
	}
	return strings.TrimRight(c.APIURL, "/") + WebhookPath
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LogValue implements slog.LogValuer with secrets masked.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("environment", c.Environment),
		slog.Int("port", c.Port),
		slog.String("dbPath", c.DBPath),
		slog.String("logLevel", c.LogLevel),
		slog.String("googleClientEmail", c.GoogleClientEmail),
		slog.String("googlePrivateKey", mask(c.GooglePrivateKey)),
		slog.String("googleCalendarID", c.GoogleCalendarID),
		slog.String("googleTimeZone", c.GoogleTimeZone),
		slog.String("apiURL", c.APIURL),
		slog.String("cronSecret", mask(c.CronSecret)),
		slog.Duration("watchTTL", c.WatchTTL),
		slog.String("channelToken", mask(c.ChannelToken)),
		slog.String("cursorBackend", c.CursorBackend),
		slog.Bool("syncCreateOnMiss", c.SyncCreateOnMiss),
		slog.Bool("syncNotifyChanges", c.SyncNotifyChanges),
		slog.Duration("reminderInterval", c.ReminderInterval),
		slog.Duration("reminderWindow", c.ReminderWindow),
		slog.String("brevoKey", mask(c.BrevoKey)),
		slog.String("mailSenderEmail", c.MailSenderEmail),
		slog.String("caldavEndpoint", c.CalDAVEndpoint),
		slog.String("caldavUsername", c.CalDAVUsername),
		slog.String("caldavPassword", mask(c.CalDAVPassword)),
		slog.String("caldavCalendarName", c.CalDAVCalendarName),
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
