package entitlement

import (
	"testing"
	"time"
)

func ts(t time.Time) *time.Time { return &t }

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  *time.Time
		want int
	}{
		{"nil end", nil, 0},
		{"five days three hours rounds up", ts(now.Add(5*24*time.Hour + 3*time.Hour)), 6},
		{"exactly five days", ts(now.Add(5 * 24 * time.Hour)), 5},
		{"one second ago", ts(now.Add(-time.Second)), 0},
		{"one second left", ts(now.Add(time.Second)), 1},
		{"far in the past", ts(now.Add(-40 * 24 * time.Hour)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysRemaining(tt.end, now); got != tt.want {
				t.Errorf("DaysRemaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start *time.Time
		want  int
	}{
		{"nil start", nil, -1},
		{"start in the future", ts(now.Add(time.Hour)), -1},
		{"same instant", ts(now), 0},
		{"ten days and change floors to ten", ts(now.Add(-(10*24*time.Hour + 5*time.Hour))), 10},
		{"just under one day", ts(now.Add(-23 * time.Hour)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysSince(tt.start, now); got != tt.want {
				t.Errorf("DaysSince = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsPastGrace(t *testing.T) {
	clock := NewClock(14, 3)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if clock.IsPastGrace(nil, periodEnd.Add(100*24*time.Hour)) {
		t.Error("nil period end must never be past grace")
	}
	if clock.IsPastGrace(&periodEnd, periodEnd.Add(3*24*time.Hour)) {
		t.Error("exactly at grace boundary should still be within grace")
	}
	if !clock.IsPastGrace(&periodEnd, periodEnd.Add(3*24*time.Hour+time.Second)) {
		t.Error("one second past grace boundary should be past grace")
	}
}

func TestTrialStart(t *testing.T) {
	clock := NewClock(14, 3)

	if got := clock.TrialStart(nil); got != nil {
		t.Fatalf("TrialStart(nil) = %v, want nil", got)
	}

	end := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	got := clock.TrialStart(&end)
	want := end.Add(-14 * 24 * time.Hour)
	if got == nil || !got.Equal(want) {
		t.Fatalf("TrialStart = %v, want %v", got, want)
	}
}

func TestNewClockDefaults(t *testing.T) {
	clock := NewClock(0, -1)
	if clock.TrialLength != DefaultTrialLength {
		t.Errorf("TrialLength = %v, want %v", clock.TrialLength, DefaultTrialLength)
	}
	if clock.Grace != DefaultGrace {
		t.Errorf("Grace = %v, want %v", clock.Grace, DefaultGrace)
	}
}

func TestPhaseLabel(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseTrialing, "Free Trial"},
		{PhaseActive, "Active"},
		{PhasePastDue, "Past Due"},
		{PhaseCanceled, "Canceled"},
		{PhaseNone, "No Plan"},
		{Phase("garbage"), "No Plan"},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := tt.phase.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}
