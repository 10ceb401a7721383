// Package entitlement holds the pure lifecycle computations for tenant
// billing state: phase derivation, trial/grace window math, and the feature
// gate. Nothing here performs I/O; every function takes "now" explicitly so
// callers stay unit-testable without mocking the system clock.
package entitlement

import "time"

// Phase is the authoritative billing lifecycle state of a tenant.
type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseTrialing Phase = "trialing"
	PhaseActive   Phase = "active"
	PhasePastDue  Phase = "past_due"
	PhaseCanceled Phase = "canceled"
)

// Plan is the subscribed billing tier, derived from the Stripe price.
type Plan string

const (
	PlanNone    Plan = "none"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Record is the lifecycle view of a tenant billing record. Timestamps are
// nullable: billing data is frequently incomplete for never-subscribed
// tenants, and all computations treat nil as "not applicable".
type Record struct {
	Phase             Phase
	Plan              Plan
	TrialEndsAt       *time.Time
	PeriodEndsAt      *time.Time
	CancelAtPeriodEnd bool
}

// Label returns the user-facing name for a phase.
func (p Phase) Label() string {
	switch p {
	case PhaseTrialing:
		return "Free Trial"
	case PhaseActive:
		return "Active"
	case PhasePastDue:
		return "Past Due"
	case PhaseCanceled:
		return "Canceled"
	default:
		return "No Plan"
	}
}

// Valid reports whether p is a known phase value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNone, PhaseTrialing, PhaseActive, PhasePastDue, PhaseCanceled:
		return true
	default:
		return false
	}
}
