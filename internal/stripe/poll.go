package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/metrics"
	"github.com/shinehq/shinehq/internal/registry"
)

const pollTimeout = 10 * time.Second

// ProviderState is the billing truth fetched from Stripe for one tenant.
// A nil Subscription means the customer exists but carries no subscription.
type ProviderState struct {
	CustomerID   string
	Subscription *Subscription
}

// BillingAPI reads current billing state from the provider. Both calls
// return (nil, nil) when no matching live customer exists.
type BillingAPI interface {
	CustomerState(ctx context.Context, customerID string) (*ProviderState, error)
	FindCustomerByEmail(ctx context.Context, email string) (*ProviderState, error)
}

// PollReconciler fetches provider truth on demand and overwrites the stored
// billing state in one shot. This path is authoritative: it supersedes any
// stale webhook-derived state.
type PollReconciler struct {
	api      BillingAPI
	registry *registry.Registry
	prices   PriceTable
}

// NewPollReconciler creates a poll reconciler.
func NewPollReconciler(api BillingAPI, reg *registry.Registry, prices PriceTable) *PollReconciler {
	return &PollReconciler{
		api:      api,
		registry: reg,
		prices:   prices,
	}
}

// Refresh queries the provider for the tenant's current state and overwrites
// the stored record. On provider error the store is left untouched and the
// error surfaced; a transient read failure never degrades stored entitlement.
func (p *PollReconciler) Refresh(ctx context.Context, tenantID string) (*registry.Tenant, error) {
	tenant, err := p.registry.Get(tenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant: %w", err)
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}

	snapshot := registry.Snapshot{
		Phase: entitlement.PhaseNone,
		Plan:  entitlement.PlanNone,
	}

	// With no stored customer ref, fall back to an email lookup: a paying
	// tenant whose binding webhooks were lost must still reconcile to their
	// real state, not get locked into "none".
	var state *ProviderState
	switch {
	case tenant.StripeCustomerID != "":
		ctx, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()
		state, err = p.api.CustomerState(ctx, tenant.StripeCustomerID)
	case tenant.Email != "":
		ctx, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()
		state, err = p.api.FindCustomerByEmail(ctx, tenant.Email)
		if err == nil && state != nil {
			log.Info().Str("tenant_id", tenant.ID).Str("customer_id", state.CustomerID).
				Msg("stripe: bound customer by email during poll")
		}
	}
	if err != nil {
		metrics.PollRefreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch provider state: %w", err)
	}
	if state != nil {
		snapshot = p.snapshotFrom(state)
	}

	if err := p.registry.OverwriteFromPoll(tenant.ID, snapshot); err != nil {
		metrics.PollRefreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("overwrite from poll: %w", err)
	}
	metrics.PollRefreshTotal.WithLabelValues("ok").Inc()

	log.Info().Str("tenant_id", tenant.ID).Str("phase", string(snapshot.Phase)).
		Msg("stripe: poll refresh applied")
	return p.registry.Get(tenant.ID)
}

// snapshotFrom maps provider truth to a total store snapshot. A customer
// without a subscription yields the none phase with the customer ref kept.
func (p *PollReconciler) snapshotFrom(state *ProviderState) registry.Snapshot {
	s := registry.Snapshot{
		StripeCustomerID: state.CustomerID,
		Phase:            entitlement.PhaseNone,
		Plan:             entitlement.PlanNone,
	}
	sub := state.Subscription
	if sub == nil {
		return s
	}
	s.StripeSubscriptionID = sub.ID
	s.Phase = MapSubscriptionStatus(sub.Status)
	s.Plan = p.prices.PlanFor(sub.FirstPriceID())
	s.TrialEndsAt = unixTime(sub.TrialEnd)
	s.PeriodEndsAt = unixTime(sub.PeriodEnd())
	s.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	return s
}
