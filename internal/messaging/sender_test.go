package messaging

import (
	"context"
	"testing"
)

func TestLogSender_Send(t *testing.T) {
	var called bool
	var gotTo, gotBody string

	sender := NewLogSender(ChannelSMS, func(to, subject, body string) {
		called = true
		gotTo = to
		gotBody = body
		_ = subject
	})

	err := sender.Send(context.Background(), Message{
		To:   "+15555550100",
		Body: "Hi Dana, your trial ends soon.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("log function was not called")
	}
	if gotTo != "+15555550100" {
		t.Errorf("expected to=+15555550100, got %s", gotTo)
	}
	if gotBody == "" {
		t.Error("expected body to be passed through")
	}
	if sender.Channel() != ChannelSMS {
		t.Errorf("channel = %q, want %q", sender.Channel(), ChannelSMS)
	}
}

func TestTwilioSender_New(t *testing.T) {
	sender := NewTwilioSender("AC123", "token", "+15555550000")
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.accountSID != "AC123" {
		t.Errorf("expected accountSID=AC123, got %s", sender.accountSID)
	}
	if sender.Channel() != ChannelSMS {
		t.Errorf("channel = %q, want %q", sender.Channel(), ChannelSMS)
	}
}

func TestResendSender_New(t *testing.T) {
	sender := NewResendSender("re_test", "hello@shinehq.app")
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.from != "hello@shinehq.app" {
		t.Errorf("expected from=hello@shinehq.app, got %s", sender.from)
	}
	if sender.Channel() != ChannelEmail {
		t.Errorf("channel = %q, want %q", sender.Channel(), ChannelEmail)
	}
}
