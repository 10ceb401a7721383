// Package retention drives the trial drip campaign: a periodic batch pass
// that nudges trial tenants who have not finished onboarding.
package retention

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/messaging"
	"github.com/shinehq/shinehq/internal/metrics"
	"github.com/shinehq/shinehq/internal/registry"
)

const sendConcurrency = 4

// Step pairs a drip step number with the elapsed-trial-day threshold that
// arms it.
type Step struct {
	Number    int
	DayOffset int
}

// DefaultSteps is the standard three-touch drip: days 9, 11, and 13 of a
// 14-day trial.
var DefaultSteps = []Step{
	{Number: 1, DayOffset: 9},
	{Number: 2, DayOffset: 11},
	{Number: 3, DayOffset: 13},
}

// Scheduler scans trial tenants and sends at most one unsent drip step per
// tenant per pass. Sends are recorded win or lose, so a failed attempt is
// never retried automatically.
type Scheduler struct {
	registry *registry.Registry
	clock    entitlement.Clock
	sms      messaging.Sender
	email    messaging.Sender
	setupURL string
	steps    []Step

	now func() time.Time
}

// NewScheduler creates a retention scheduler using the default step
// thresholds. baseURL is the dashboard root the deep links point into.
func NewScheduler(reg *registry.Registry, clock entitlement.Clock, sms, email messaging.Sender, baseURL string) *Scheduler {
	return &Scheduler{
		registry: reg,
		clock:    clock,
		sms:      sms,
		email:    email,
		setupURL: baseURL + "/setup",
		steps:    DefaultSteps,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the periodic drip loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("retention scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("retention pass failed")
			}
		}
	}
}

// RunOnce executes a single drip pass. One tenant's failure never aborts the
// pass; the first error is returned after every tenant has been visited.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RetentionRunDuration.Observe(time.Since(start).Seconds())
	}()

	tenants, err := s.registry.ListRetentionCandidates()
	if err != nil {
		return fmt.Errorf("list retention candidates: %w", err)
	}
	if len(tenants) == 0 {
		return nil
	}

	now := s.now()
	var g errgroup.Group
	g.SetLimit(sendConcurrency)
	for _, tenant := range tenants {
		g.Go(func() error {
			if err := s.processTenant(ctx, tenant, now); err != nil {
				log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("retention step failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// processTenant sends the lowest unsent step whose threshold the tenant has
// reached, if any.
func (s *Scheduler) processTenant(ctx context.Context, tenant *registry.Tenant, now time.Time) error {
	days := entitlement.DaysSince(s.clock.TrialStart(tenant.TrialEndsAt), now)
	if days < 0 {
		return nil
	}

	sent, err := s.registry.RetentionStepsSent(tenant.ID)
	if err != nil {
		return fmt.Errorf("lookup sent steps: %w", err)
	}

	var candidate *Step
	for i := range s.steps {
		step := s.steps[i]
		if sent[step.Number] {
			continue
		}
		if days >= step.DayOffset {
			candidate = &step
		}
		break // lowest unsent step only, armed or not
	}
	if candidate == nil {
		return nil
	}

	subject, body, err := renderStep(candidate.Number, templateData{
		FirstName: tenant.FirstName,
		SetupURL:  s.setupURL,
	})
	if err != nil {
		return err
	}

	sender, to := s.email, tenant.Email
	if tenant.Phone != "" && s.sms != nil {
		sender, to = s.sms, tenant.Phone
	}
	if sender == nil {
		return fmt.Errorf("no sender available for tenant %s", tenant.ID)
	}

	sendErr := sender.Send(ctx, messaging.Message{To: to, Subject: subject, Body: body})

	record := &registry.RetentionSend{
		TenantID:  tenant.ID,
		Step:      candidate.Number,
		Channel:   sender.Channel(),
		SentAt:    now,
		Succeeded: sendErr == nil,
	}
	outcome := "ok"
	if sendErr != nil {
		record.ErrorDetail = sendErr.Error()
		outcome = "error"
	}
	metrics.RetentionSendsTotal.WithLabelValues(strconv.Itoa(candidate.Number), outcome).Inc()

	// The record is written even when the send failed: retrying a failed
	// step is an administrative action, not an automatic one.
	if err := s.registry.RecordRetentionSend(record); err != nil {
		return fmt.Errorf("record retention send: %w", err)
	}

	log.Info().
		Str("tenant_id", tenant.ID).
		Int("step", candidate.Number).
		Int("trial_day", days).
		Str("channel", record.Channel).
		Bool("succeeded", record.Succeeded).
		Msg("retention step sent")

	if sendErr != nil {
		return fmt.Errorf("send retention step %d: %w", candidate.Number, sendErr)
	}
	return nil
}
