// Package server wires the entitlement engine together and runs its HTTP
// surface plus background loops.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/config"
	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/logging"
	"github.com/shinehq/shinehq/internal/messaging"
	"github.com/shinehq/shinehq/internal/registry"
	"github.com/shinehq/shinehq/internal/retention"
	"github.com/shinehq/shinehq/internal/stripe"
)

// Run starts the engine with graceful shutdown. It blocks until ctx is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "shinehq",
	})

	log.Info().Str("version", version).Msg("starting ShineHQ entitlement engine")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.RegistryDir(), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	reg, err := registry.New(cfg.RegistryDir())
	if err != nil {
		return fmt.Errorf("open tenant registry: %w", err)
	}
	defer reg.Close()

	clock := entitlement.NewClock(cfg.TrialDays, cfg.GraceDays)
	prices := stripe.PriceTable{Monthly: cfg.StripePriceMonthly, Annual: cfg.StripePriceAnnual}
	client := stripe.NewClient(cfg.StripeAPIKey, prices, cfg.TrialDays, cfg.BaseURL)
	if !client.Configured() {
		log.Warn().Msg("STRIPE_API_KEY not set — checkout, portal, and poll refresh disabled")
	}

	reconciler := stripe.NewReconciler(reg, prices)
	webhook := stripe.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler)
	poller := stripe.NewPollReconciler(client, reg, prices)

	emailSender := newEmailSender(cfg)
	smsSender := newSMSSender(cfg)
	scheduler := retention.NewScheduler(reg, clock, smsSender, emailSender, cfg.BaseURL)

	handler := NewHandler(&Deps{
		Config:   cfg,
		Registry: reg,
		Clock:    clock,
		Provider: client,
		Poller:   poller,
		Webhook:  webhook,
		Version:  version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go scheduler.Run(ctx, cfg.RetentionInterval)
	go runPhaseGauges(ctx, reg)

	go func() {
		log.Info().Str("addr", addr).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	log.Info().Msg("engine stopped")
	return nil
}

// RunRetentionOnce executes a single drip pass and exits. Used by the
// retention-run command for cron-style deployments.
func RunRetentionOnce(ctx context.Context) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "shinehq-retention",
	})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.New(cfg.RegistryDir())
	if err != nil {
		return fmt.Errorf("open tenant registry: %w", err)
	}
	defer reg.Close()

	clock := entitlement.NewClock(cfg.TrialDays, cfg.GraceDays)
	scheduler := retention.NewScheduler(reg, clock, newSMSSender(cfg), newEmailSender(cfg), cfg.BaseURL)
	return scheduler.RunOnce(ctx)
}

func newEmailSender(cfg *config.Config) messaging.Sender {
	if cfg.ResendAPIKey != "" {
		log.Info().Msg("email sender configured (Resend)")
		return messaging.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	}
	log.Info().Msg("email sender: log-only (set RESEND_API_KEY to enable)")
	return messaging.NewLogSender(messaging.ChannelEmail, logMessage("email"))
}

func newSMSSender(cfg *config.Config) messaging.Sender {
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		log.Info().Msg("SMS sender configured (Twilio)")
		return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	log.Info().Msg("SMS sender: log-only (set TWILIO_* to enable)")
	return messaging.NewLogSender(messaging.ChannelSMS, logMessage("sms"))
}

func logMessage(kind string) func(to, subject, body string) {
	return func(to, subject, body string) {
		const maxBody = 4096
		if len(body) > maxBody {
			body = body[:maxBody] + "...(truncated)"
		}
		log.Info().
			Str("to", to).
			Str("subject", subject).
			Str("body", body).
			Msgf("%s (log-only, no provider configured)", kind)
	}
}
