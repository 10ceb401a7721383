// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TenantsByPhase tracks the number of tenants in each billing phase.
	TenantsByPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shinehq",
		Subsystem: "billing",
		Name:      "tenants_by_phase",
		Help:      "Number of tenants by billing lifecycle phase.",
	}, []string{"phase"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shinehq",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shinehq",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// PollRefreshTotal counts poll reconciler runs by outcome.
	PollRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shinehq",
		Subsystem: "billing",
		Name:      "poll_refresh_total",
		Help:      "Total poll reconciliations by outcome.",
	}, []string{"outcome"})

	// RetentionSendsTotal counts retention drip sends by step and outcome.
	RetentionSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shinehq",
		Subsystem: "retention",
		Name:      "sends_total",
		Help:      "Total retention notification sends by step and outcome.",
	}, []string{"step", "outcome"})

	// RetentionRunDuration tracks a full retention batch pass.
	RetentionRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shinehq",
		Subsystem: "retention",
		Name:      "run_duration_seconds",
		Help:      "Retention scheduler batch pass duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)
