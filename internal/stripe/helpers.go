package stripe

import (
	"strings"

	"github.com/shinehq/shinehq/internal/entitlement"
)

// PriceTable maps the configured Stripe price IDs to billing plans.
type PriceTable struct {
	Monthly string
	Annual  string
}

// PlanFor returns the plan for a Stripe price ID. Unknown or empty price IDs
// map to PlanNone.
func (p PriceTable) PlanFor(priceID string) entitlement.Plan {
	switch strings.TrimSpace(priceID) {
	case "":
		return entitlement.PlanNone
	case p.Monthly:
		return entitlement.PlanMonthly
	case p.Annual:
		return entitlement.PlanAnnual
	default:
		return entitlement.PlanNone
	}
}

// MapSubscriptionStatus converts a Stripe subscription status string to a
// lifecycle phase. Unknown statuses fail closed (canceled).
func MapSubscriptionStatus(status string) entitlement.Phase {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return entitlement.PhaseTrialing
	case "active":
		return entitlement.PhaseActive
	case "past_due", "unpaid":
		return entitlement.PhasePastDue
	case "canceled", "incomplete_expired":
		return entitlement.PhaseCanceled
	case "incomplete", "paused":
		return entitlement.PhasePastDue
	default:
		return entitlement.PhaseCanceled
	}
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
