package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/logging"
	"github.com/shinehq/shinehq/internal/registry"
)

// billingProvider is the slice of the Stripe client the dashboard endpoints
// drive.
type billingProvider interface {
	CreateCheckoutSession(ctx context.Context, tenantID, email string, plan entitlement.Plan) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

// refresher pulls provider truth into the store on demand.
type refresher interface {
	Refresh(ctx context.Context, tenantID string) (*registry.Tenant, error)
}

type billingHandlers struct {
	registry *registry.Registry
	clock    entitlement.Clock
	provider billingProvider
	poller   refresher
	now      func() time.Time
}

func newBillingHandlers(reg *registry.Registry, clock entitlement.Clock, provider billingProvider, poller refresher) *billingHandlers {
	return &billingHandlers{
		registry: reg,
		clock:    clock,
		provider: provider,
		poller:   poller,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// billingSnapshot is the dashboard's view of one tenant's lifecycle state,
// computed with the clock at request time.
type billingSnapshot struct {
	Status            string     `json:"status"`
	Label             string     `json:"label"`
	Plan              string     `json:"plan"`
	TrialEnd          *time.Time `json:"trial_end,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	DaysRemaining     int        `json:"days_remaining"`
	CanAccess         bool       `json:"can_access"`
}

func (h *billingHandlers) snapshot(tenant *registry.Tenant, now time.Time) billingSnapshot {
	rec := tenant.Entitlement()
	end := rec.PeriodEndsAt
	if rec.Phase == entitlement.PhaseTrialing && rec.TrialEndsAt != nil {
		end = rec.TrialEndsAt
	}
	return billingSnapshot{
		Status:            string(rec.Phase),
		Label:             rec.Phase.Label(),
		Plan:              string(rec.Plan),
		TrialEnd:          rec.TrialEndsAt,
		SubscriptionEnd:   rec.PeriodEndsAt,
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
		DaysRemaining:     entitlement.DaysRemaining(end, now),
		CanAccess:         h.clock.CanAccess(rec, now),
	}
}

func (h *billingHandlers) tenant(w http.ResponseWriter, tenantID string) *registry.Tenant {
	tenant, err := h.registry.Get(tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("billing: tenant lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if tenant == nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return nil
	}
	return tenant
}

// handleStatus returns the current lifecycle snapshot without touching the
// provider.
func (h *billingHandlers) handleStatus(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant := h.tenant(w, tenantID)
	if tenant == nil {
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot(tenant, h.now()))
}

// handleRefresh polls the provider and returns the fresh snapshot. A provider
// failure surfaces as 502 and leaves the store untouched.
func (h *billingHandlers) handleRefresh(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant, err := h.poller.Refresh(r.Context(), tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).
			Str("request_id", logging.RequestID(r.Context())).Msg("billing: refresh failed")
		writeError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot(tenant, h.now()))
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (h *billingHandlers) handleCheckout(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant := h.tenant(w, tenantID)
	if tenant == nil {
		return
	}

	var req checkoutRequest
	if r.Body != nil {
		// An empty body means the default plan.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	plan := entitlement.PlanMonthly
	switch req.Plan {
	case "", string(entitlement.PlanMonthly):
	case string(entitlement.PlanAnnual):
		plan = entitlement.PlanAnnual
	default:
		writeError(w, http.StatusBadRequest, "unknown plan")
		return
	}

	url, err := h.provider.CreateCheckoutSession(r.Context(), tenant.ID, tenant.Email, plan)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).
			Str("request_id", logging.RequestID(r.Context())).Msg("billing: checkout session failed")
		writeError(w, http.StatusBadGateway, "unable to start checkout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *billingHandlers) handlePortal(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant := h.tenant(w, tenantID)
	if tenant == nil {
		return
	}
	if tenant.StripeCustomerID == "" {
		writeError(w, http.StatusConflict, "no billing profile yet")
		return
	}
	url, err := h.provider.CreatePortalSession(r.Context(), tenant.StripeCustomerID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).
			Str("request_id", logging.RequestID(r.Context())).Msg("billing: portal session failed")
		writeError(w, http.StatusBadGateway, "unable to open billing portal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleCancel flags the subscription to lapse at period end, then refreshes
// the store so the snapshot reflects provider truth.
func (h *billingHandlers) handleCancel(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant := h.tenant(w, tenantID)
	if tenant == nil {
		return
	}
	if tenant.StripeSubscriptionID == "" {
		writeError(w, http.StatusConflict, "no active subscription")
		return
	}
	if err := h.provider.CancelAtPeriodEnd(r.Context(), tenant.StripeSubscriptionID); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).
			Str("request_id", logging.RequestID(r.Context())).Msg("billing: cancel failed")
		writeError(w, http.StatusBadGateway, "unable to cancel subscription")
		return
	}
	fresh, err := h.poller.Refresh(r.Context(), tenant.ID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).
			Str("request_id", logging.RequestID(r.Context())).Msg("billing: post-cancel refresh failed")
		writeError(w, http.StatusBadGateway, "billing provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot(fresh, h.now()))
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
