package entitlement

import "time"

const (
	day = 24 * time.Hour

	// DefaultTrialLength and DefaultGrace back the config when unset.
	DefaultTrialLength = 14 * day
	DefaultGrace       = 3 * day
)

// Clock bundles the configured trial length and payment grace window so
// lifecycle math is defined in exactly one place.
type Clock struct {
	TrialLength time.Duration
	Grace       time.Duration
}

// NewClock builds a Clock from whole-day settings, falling back to the
// defaults for non-positive values.
func NewClock(trialDays, graceDays int) Clock {
	c := Clock{
		TrialLength: time.Duration(trialDays) * day,
		Grace:       time.Duration(graceDays) * day,
	}
	if c.TrialLength <= 0 {
		c.TrialLength = DefaultTrialLength
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	return c
}

// DaysRemaining returns the whole days until end, rounded up, never negative.
// A nil end means "no window" and counts as zero days remaining.
func DaysRemaining(end *time.Time, now time.Time) int {
	if end == nil {
		return 0
	}
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}

// DaysSince returns the whole days elapsed since start, rounded down.
// A nil start or a start in the future returns -1 ("not applicable") so
// day-offset comparisons fail closed.
func DaysSince(start *time.Time, now time.Time) int {
	if start == nil {
		return -1
	}
	d := now.Sub(*start)
	if d < 0 {
		return -1
	}
	return int(d / day)
}

// IsPastGrace reports whether now is beyond periodEnd plus the grace window.
// A nil periodEnd is never past grace.
func (c Clock) IsPastGrace(periodEnd *time.Time, now time.Time) bool {
	if periodEnd == nil {
		return false
	}
	return now.After(periodEnd.Add(c.Grace))
}

// TrialStart derives the trial start from its end. There is no independently
// stored start timestamp; the trial length is the single configured source.
func (c Clock) TrialStart(trialEnd *time.Time) *time.Time {
	if trialEnd == nil {
		return nil
	}
	start := trialEnd.Add(-c.TrialLength)
	return &start
}
