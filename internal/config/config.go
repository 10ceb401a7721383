// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the entitlement engine.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	BaseURL     string
	AdminKey    string

	// SessionSecret signs the dashboard session JWTs used by the billing
	// status/refresh endpoints.
	SessionSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceMonthly  string
	StripePriceAnnual   string

	ResendAPIKey     string // optional; empty means emails are logged
	EmailFrom        string
	TwilioAccountSID string // optional; empty means SMS are logged
	TwilioAuthToken  string
	TwilioFromNumber string

	TrialDays         int
	GraceDays         int
	RetentionInterval time.Duration

	PublicMetrics bool
	PublicStatus  bool
}

// RegistryDir returns the directory holding the billing database.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "registry")
}

// Load reads configuration from environment variables. A .env file is loaded
// if present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("SHINEHQ_PORT", 8480)
	if err != nil {
		return nil, err
	}
	trialDays, err := envOrDefaultInt("SHINEHQ_TRIAL_DAYS", 14)
	if err != nil {
		return nil, err
	}
	graceDays, err := envOrDefaultInt("SHINEHQ_GRACE_DAYS", 3)
	if err != nil {
		return nil, err
	}
	retentionInterval, err := envOrDefaultDuration("SHINEHQ_RETENTION_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("SHINEHQ_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("SHINEHQ_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             strings.TrimSpace(os.Getenv("SHINEHQ_BASE_URL")),
		AdminKey:            strings.TrimSpace(os.Getenv("SHINEHQ_ADMIN_KEY")),
		SessionSecret:       strings.TrimSpace(os.Getenv("SHINEHQ_SESSION_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceMonthly:  strings.TrimSpace(os.Getenv("STRIPE_PRICE_MONTHLY")),
		StripePriceAnnual:   strings.TrimSpace(os.Getenv("STRIPE_PRICE_ANNUAL")),
		ResendAPIKey:        strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		EmailFrom:           envOrDefault("SHINEHQ_EMAIL_FROM", "hello@shinehq.app"),
		TwilioAccountSID:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:     strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioFromNumber:    strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		TrialDays:           trialDays,
		GraceDays:           graceDays,
		RetentionInterval:   retentionInterval,
		PublicMetrics:       envBool("SHINEHQ_PUBLIC_METRICS"),
		PublicStatus:        envBool("SHINEHQ_PUBLIC_STATUS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "SHINEHQ_BASE_URL")
	}
	if c.AdminKey == "" {
		missing = append(missing, "SHINEHQ_ADMIN_KEY")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SHINEHQ_SESSION_SECRET")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SHINEHQ_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.TrialDays < 1 {
		return fmt.Errorf("SHINEHQ_TRIAL_DAYS must be at least 1, got %d", c.TrialDays)
	}
	if c.GraceDays < 0 {
		return fmt.Errorf("SHINEHQ_GRACE_DAYS must not be negative, got %d", c.GraceDays)
	}
	if c.RetentionInterval < time.Minute {
		return fmt.Errorf("SHINEHQ_RETENTION_INTERVAL must be at least 1m, got %s", c.RetentionInterval)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("SHINEHQ_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("SHINEHQ_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("SHINEHQ_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
