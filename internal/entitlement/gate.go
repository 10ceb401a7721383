package entitlement

import "time"

// CanAccess decides whether a tenant may use gated dashboard capabilities
// right now. Trialing and active tenants are always allowed; past-due tenants
// keep access until the grace window closes. Everything else is denied, so
// unknown phases fail closed.
//
// The predicate is evaluated on every check rather than cached: phase can
// change between two renders, e.g. right after a poll refresh.
func (c Clock) CanAccess(rec Record, now time.Time) bool {
	switch rec.Phase {
	case PhaseTrialing, PhaseActive:
		return true
	case PhasePastDue:
		return !c.IsPastGrace(rec.PeriodEndsAt, now)
	default:
		return false
	}
}
