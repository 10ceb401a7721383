package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioSender sends SMS via the Twilio Messages REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

// NewTwilioSender creates a Twilio SMS sender.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Channel reports "sms".
func (s *TwilioSender) Channel() string { return ChannelSMS }

// Send sends an SMS via the Twilio API.
func (s *TwilioSender) Send(ctx context.Context, msg Message) error {
	form := url.Values{
		"To":   []string{msg.To},
		"From": []string{s.from},
		"Body": []string{msg.Body},
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var twErr twilioErrorResponse
		_ = json.Unmarshal(respBody, &twErr)
		return fmt.Errorf("twilio error (HTTP %d): code=%d message=%s", resp.StatusCode, twErr.Code, twErr.Message)
	}

	return nil
}
