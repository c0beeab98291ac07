package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoSender delivers messages through the Brevo transactional email API.
type BrevoSender struct {
	apiKey     string
	from       Recipient
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBrevoSender creates a sender. A nil httpClient uses a client with a
// 10 second timeout.
func NewBrevoSender(logger *slog.Logger, apiKey string, from Recipient, httpClient *http.Client) *BrevoSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BrevoSender{
		apiKey:     apiKey,
		from:       from,
		endpoint:   brevoEndpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

type brevoRequest struct {
	Sender      Recipient   `json:"sender"`
	To          []Recipient `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(brevoRequest{
		Sender:      s.from,
		To:          msg.To,
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("brevo rejected email (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	s.logger.Info("Email sent", "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}
