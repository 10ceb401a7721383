// Package messaging wraps the outbound notification providers. Senders are
// fire-and-forget from the caller's perspective; delivery outcome is returned
// so the retention scheduler can record it.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel identifies the transport a message was sent over.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Message represents one outbound notification.
type Message struct {
	To      string // phone number (SMS) or email address
	Subject string // ignored by SMS providers
	Body    string
}

// Sender delivers a message over one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Channel() string
}

// ResendSender sends transactional email via the Resend HTTP API.
type ResendSender struct {
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewResendSender creates a Resend email sender.
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		apiKey: apiKey,
		from:   from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Channel reports "email".
func (s *ResendSender) Channel() string { return ChannelEmail }

// Send sends an email via the Resend API.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	payload := resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp resendErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("resend error (HTTP %d): name=%s message=%s", resp.StatusCode, errResp.Name, errResp.Message)
	}

	return nil
}

// LogSender logs messages instead of sending them. Used as fallback when no
// provider is configured.
type LogSender struct {
	channel string
	logFn   func(to, subject, body string)
}

// NewLogSender creates a sender that logs messages for the given channel.
func NewLogSender(channel string, logFn func(to, subject, body string)) *LogSender {
	return &LogSender{channel: channel, logFn: logFn}
}

// Channel reports the channel this sender stands in for.
func (l *LogSender) Channel() string { return l.channel }

// Send logs the message instead of sending it.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	if l.logFn != nil {
		l.logFn(msg.To, msg.Subject, msg.Body)
	}
	return nil
}
