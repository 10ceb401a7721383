package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/registry"
)

// Reconciler folds verified Stripe events into the tenant registry. Writes
// are field-level patches so replayed or reordered deliveries converge on the
// same stored state.
type Reconciler struct {
	registry *registry.Registry
	prices   PriceTable
}

// NewReconciler creates a webhook event reconciler.
func NewReconciler(reg *registry.Registry, prices PriceTable) *Reconciler {
	return &Reconciler{
		registry: reg,
		prices:   prices,
	}
}

// HandleCheckout links the Stripe customer ref to a tenant. Identity linking
// only; the phase changes when the subscription events arrive.
func (rc *Reconciler) HandleCheckout(ctx context.Context, session CheckoutSession) error {
	if session.Mode != "" && session.Mode != "subscription" {
		log.Info().Str("session_id", session.ID).Str("mode", session.Mode).
			Msg("stripe: checkout session ignored (not subscription mode)")
		return nil
	}

	tenant, err := rc.resolveTenant(session.Metadata, session.Customer, session.Email())
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Warn().Str("session_id", session.ID).Str("customer", session.Customer).
			Msg("stripe: checkout session dropped (no matching tenant)")
		return nil
	}

	customerID := strings.TrimSpace(session.Customer)
	if customerID != "" && tenant.StripeCustomerID != customerID {
		if err := rc.registry.BindStripeCustomer(tenant.ID, customerID); err != nil {
			return fmt.Errorf("bind stripe customer: %w", err)
		}
	}
	if subID := strings.TrimSpace(session.Subscription); subID != "" && tenant.StripeSubscriptionID != subID {
		if err := rc.registry.ApplyWebhookPatch(tenant.ID, registry.Patch{StripeSubscriptionID: &subID}); err != nil {
			return fmt.Errorf("bind stripe subscription: %w", err)
		}
	}

	log.Info().Str("tenant_id", tenant.ID).Str("customer", customerID).
		Msg("stripe: checkout completed, customer linked")
	return nil
}

// HandleSubscription applies a subscription created/updated event.
func (rc *Reconciler) HandleSubscription(ctx context.Context, sub Subscription) error {
	tenant, err := rc.resolveTenant(sub.Metadata, sub.Customer, "")
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Warn().Str("subscription_id", sub.ID).Str("customer", sub.Customer).
			Msg("stripe: subscription event dropped (no matching tenant)")
		return nil
	}

	phase := MapSubscriptionStatus(sub.Status)
	plan := rc.prices.PlanFor(sub.FirstPriceID())
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd

	patch := registry.Patch{
		Phase:             &phase,
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
	}
	if subID := strings.TrimSpace(sub.ID); subID != "" {
		patch.StripeSubscriptionID = &subID
	}

	switch phase {
	case entitlement.PhaseTrialing:
		patch.Plan = &plan
		patch.TrialEndsAt = unixTime(sub.TrialEnd)
		patch.PeriodEndsAt = unixTime(sub.PeriodEnd())
	case entitlement.PhaseActive:
		patch.Plan = &plan
		patch.PeriodEndsAt = unixTime(sub.PeriodEnd())
	case entitlement.PhasePastDue:
		// Keep the stored period end; the failed renewal did not extend it.
	}

	if err := rc.registry.ApplyWebhookPatch(tenant.ID, patch); err != nil {
		return fmt.Errorf("apply subscription patch: %w", err)
	}

	log.Info().Str("tenant_id", tenant.ID).Str("subscription_id", sub.ID).
		Str("status", sub.Status).Str("phase", string(phase)).
		Msg("stripe: subscription state applied")
	return nil
}

// HandleSubscriptionDeleted marks the tenant canceled and clears the
// subscription ref. The customer ref stays so later events still resolve.
func (rc *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub Subscription) error {
	tenant, err := rc.resolveTenant(sub.Metadata, sub.Customer, "")
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Warn().Str("subscription_id", sub.ID).Str("customer", sub.Customer).
			Msg("stripe: subscription deleted event dropped (no matching tenant)")
		return nil
	}

	phase := entitlement.PhaseCanceled
	if err := rc.registry.ApplyWebhookPatch(tenant.ID, registry.Patch{
		Phase:                &phase,
		ClearSubscriptionRef: true,
	}); err != nil {
		return fmt.Errorf("apply cancellation patch: %w", err)
	}

	log.Info().Str("tenant_id", tenant.ID).Str("subscription_id", sub.ID).
		Msg("stripe: subscription deleted, tenant canceled")
	return nil
}

// HandleInvoicePaid moves the tenant to active. This is the recovery path out
// of past_due.
func (rc *Reconciler) HandleInvoicePaid(ctx context.Context, inv Invoice) error {
	tenant, err := rc.resolveTenant(inv.Metadata, inv.Customer, inv.CustomerEmail)
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Warn().Str("invoice_id", inv.ID).Str("customer", inv.Customer).
			Msg("stripe: invoice paid event dropped (no matching tenant)")
		return nil
	}

	phase := entitlement.PhaseActive
	if err := rc.registry.ApplyWebhookPatch(tenant.ID, registry.Patch{Phase: &phase}); err != nil {
		return fmt.Errorf("apply invoice paid patch: %w", err)
	}

	log.Info().Str("tenant_id", tenant.ID).Str("invoice_id", inv.ID).
		Msg("stripe: invoice paid, tenant active")
	return nil
}

// HandleInvoiceFailed moves the tenant to past_due. Access survives until the
// grace window elapses.
func (rc *Reconciler) HandleInvoiceFailed(ctx context.Context, inv Invoice) error {
	tenant, err := rc.resolveTenant(inv.Metadata, inv.Customer, inv.CustomerEmail)
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Warn().Str("invoice_id", inv.ID).Str("customer", inv.Customer).
			Msg("stripe: invoice failed event dropped (no matching tenant)")
		return nil
	}

	phase := entitlement.PhasePastDue
	if err := rc.registry.ApplyWebhookPatch(tenant.ID, registry.Patch{Phase: &phase}); err != nil {
		return fmt.Errorf("apply invoice failed patch: %w", err)
	}

	log.Info().Str("tenant_id", tenant.ID).Str("invoice_id", inv.ID).
		Msg("stripe: invoice payment failed, tenant past due")
	return nil
}

// resolveTenant finds the tenant for an inbound event. Resolution order:
// explicit tenant_id metadata, stored customer mapping, then email fallback
// (persisting the customer mapping once found). Returns (nil, nil) when the
// event cannot be attributed to any tenant.
func (rc *Reconciler) resolveTenant(metadata map[string]string, customerID, email string) (*registry.Tenant, error) {
	if tenantID := strings.TrimSpace(metadata["tenant_id"]); tenantID != "" {
		tenant, err := rc.registry.Get(tenantID)
		if err != nil {
			return nil, fmt.Errorf("lookup tenant %s: %w", tenantID, err)
		}
		if tenant != nil {
			return tenant, nil
		}
		log.Warn().Str("tenant_id", tenantID).Msg("stripe: event metadata names unknown tenant")
	}

	customerID = strings.TrimSpace(customerID)
	if customerID != "" {
		if !IsSafeStripeID(customerID) {
			return nil, nil
		}
		tenant, err := rc.registry.GetByStripeCustomerID(customerID)
		if err != nil {
			return nil, fmt.Errorf("lookup tenant by customer %s: %w", customerID, err)
		}
		if tenant != nil {
			return tenant, nil
		}
	}

	if email = strings.TrimSpace(email); email != "" {
		tenant, err := rc.registry.GetByEmail(email)
		if err != nil {
			return nil, fmt.Errorf("lookup tenant by email: %w", err)
		}
		if tenant != nil {
			if customerID != "" {
				if err := rc.registry.BindStripeCustomer(tenant.ID, customerID); err != nil {
					return nil, fmt.Errorf("persist customer mapping: %w", err)
				}
				tenant.StripeCustomerID = customerID
			}
			return tenant, nil
		}
	}

	return nil, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
