package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shinehq/shinehq/internal/config"
	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/registry"
	"github.com/shinehq/shinehq/internal/stripe"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *config.Config
	Registry *registry.Registry
	Clock    entitlement.Clock
	Provider billingProvider
	Poller   refresher
	Webhook  *stripe.WebhookHandler
	Version  string
}

// NewHandler builds the full HTTP surface: all routes plus the request-id
// and panic-recovery middleware.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return requestIDMiddleware(mux)
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return adminKeyMiddleware(deps.Config.AdminKey, next)
	}
	secret := []byte(deps.Config.SessionSecret)

	// Health / readiness are unauthenticated probes.
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Registry))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(handleStatus(deps.Registry, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("GET /status", statusHandler)
	} else {
		mux.Handle("GET /status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		mux.Handle("GET /metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated).
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("POST /api/stripe/webhook", webhookLimiter.Middleware(deps.Webhook))

	// Dashboard billing API (session-authenticated).
	billing := newBillingHandlers(deps.Registry, deps.Clock, deps.Provider, deps.Poller)
	mux.Handle("GET /api/billing/status", requireSession(secret, billing.handleStatus))
	mux.Handle("POST /api/billing/refresh", requireSession(secret, billing.handleRefresh))
	mux.Handle("POST /api/billing/checkout", requireSession(secret, billing.handleCheckout))
	mux.Handle("POST /api/billing/portal", requireSession(secret, billing.handlePortal))
	mux.Handle("POST /api/billing/cancel", requireSession(secret, billing.handleCancel))

	// Operator support surface (admin-key authenticated).
	admin := &adminHandlers{registry: deps.Registry, secret: secret}
	mux.Handle("GET /api/admin/tenants/{id}/retention", adminAuth(http.HandlerFunc(admin.handleRetentionSends)))
	mux.Handle("DELETE /api/admin/tenants/{id}/retention/{step}", adminAuth(http.HandlerFunc(admin.handleRetentionRearm)))
	mux.Handle("POST /api/admin/tenants/{id}/session", adminAuth(http.HandlerFunc(admin.handleIssueSession)))
}
