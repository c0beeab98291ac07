// Package notify renders and delivers organizer emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"eventsync/internal/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("Mon 2 Jan 2006 15:04 MST") },
}).ParseFS(templatesFS, "templates/*.html"))

// ErrNoRecipient is returned when an event has no organizer email.
var ErrNoRecipient = errors.New("notify: event has no organizer email")

// Recipient is an email address with an optional display name.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is one email.
type Message struct {
	To      []Recipient
	Subject string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ChangeType names the lifecycle change an organizer is notified about.
type ChangeType string

const (
	ChangeUpdated   ChangeType = "updated"
	ChangeCancelled ChangeType = "cancelled"
)

func (c ChangeType) subject(title string) string {
	switch c {
	case ChangeUpdated:
		return "Event Updated: " + title
	case ChangeCancelled:
		return "Event Cancelled: " + title
	default:
		return "Event Update: " + title
	}
}

func organizer(e models.Event) ([]Recipient, error) {
	if e.OrganizerEmail == "" {
		return nil, ErrNoRecipient
	}
	return []Recipient{{Email: e.OrganizerEmail, Name: e.OrganizerName}}, nil
}

// ReminderMessage builds the organizer reminder for an upcoming event.
func ReminderMessage(e models.Event) (Message, error) {
	to, err := organizer(e)
	if err != nil {
		return Message{}, err
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "reminder.html", e); err != nil {
		return Message{}, fmt.Errorf("failed to render reminder: %w", err)
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Reminder: %s starts tomorrow!", e.Title),
		HTML:    body.String(),
	}, nil
}

// ChangeMessage builds the organizer notification for a lifecycle change.
func ChangeMessage(e models.Event, change ChangeType) (Message, error) {
	to, err := organizer(e)
	if err != nil {
		return Message{}, err
	}

	subject := change.subject(e.Title)
	var body bytes.Buffer
	err = templates.ExecuteTemplate(&body, "change.html", struct {
		Subject string
		Change  ChangeType
		Event   models.Event
	}{subject, change, e})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render %s notification: %w", change, err)
	}
	return Message{To: to, Subject: subject, HTML: body.String()}, nil
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	to := make([]string, 0, len(msg.To))
	for _, r := range msg.To {
		to = append(to, r.Email)
	}
	s.logger.Info("Email not sent (log sender)", "to", to, "subject", msg.Subject)
	return nil
}
