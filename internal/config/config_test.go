package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SHINEHQ_BASE_URL", "https://billing.example.com")
	t.Setenv("SHINEHQ_ADMIN_KEY", "admin-secret")
	t.Setenv("SHINEHQ_SESSION_SECRET", "session-secret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SHINEHQ_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8480 {
		t.Errorf("Port = %d, want 8480", cfg.Port)
	}
	if cfg.TrialDays != 14 {
		t.Errorf("TrialDays = %d, want 14", cfg.TrialDays)
	}
	if cfg.GraceDays != 3 {
		t.Errorf("GraceDays = %d, want 3", cfg.GraceDays)
	}
	if cfg.RetentionInterval != time.Hour {
		t.Errorf("RetentionInterval = %s, want 1h", cfg.RetentionInterval)
	}
	if cfg.PublicMetrics {
		t.Error("PublicMetrics should default to false")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SHINEHQ_ADMIN_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing admin key")
	}
	if !strings.Contains(err.Error(), "SHINEHQ_ADMIN_KEY") {
		t.Errorf("error should name the missing variable, got: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "SHINEHQ_PORT", "70000"},
		{"port not a number", "SHINEHQ_PORT", "abc"},
		{"trial days zero", "SHINEHQ_TRIAL_DAYS", "0"},
		{"negative grace", "SHINEHQ_GRACE_DAYS", "-1"},
		{"interval too short", "SHINEHQ_RETENTION_INTERVAL", "5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SHINEHQ_BASE_URL", "ftp://example.com")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-http base URL")
	}
}

func TestRegistryDir(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.RegistryDir(); got != "/data/registry" {
		t.Errorf("RegistryDir() = %q, want /data/registry", got)
	}
}
