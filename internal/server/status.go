package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/metrics"
	"github.com/shinehq/shinehq/internal/registry"
)

const phaseGaugeInterval = 60 * time.Second

type statusResponse struct {
	Version      string                    `json:"version"`
	TotalTenants int                       `json:"total_tenants"`
	ByPhase      map[entitlement.Phase]int `json:"by_phase"`
}

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks database connectivity (readiness probe).
func handleReadyz(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := reg.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// handleStatus reports aggregate tenant counts by lifecycle phase.
func handleStatus(reg *registry.Registry, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := reg.CountByPhase()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// Opportunistically sync gauges on status calls too.
		setPhaseGauges(counts)

		total := 0
		for _, c := range counts {
			total += c
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Version:      version,
			TotalTenants: total,
			ByPhase:      counts,
		})
	}
}

// runPhaseGauges keeps the tenants-by-phase gauge current. It blocks until
// ctx is cancelled.
func runPhaseGauges(ctx context.Context, reg *registry.Registry) {
	ticker := time.NewTicker(phaseGaugeInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updatePhaseGauges(reg)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updatePhaseGauges(reg)
		}
	}
}

func updatePhaseGauges(reg *registry.Registry) {
	counts, err := reg.CountByPhase()
	if err != nil {
		log.Error().Err(err).Msg("failed to update tenant phase metrics")
		return
	}
	setPhaseGauges(counts)
}

func setPhaseGauges(counts map[entitlement.Phase]int) {
	// Known phases always export, so absent phases read zero, not missing.
	known := []entitlement.Phase{
		entitlement.PhaseNone,
		entitlement.PhaseTrialing,
		entitlement.PhaseActive,
		entitlement.PhasePastDue,
		entitlement.PhaseCanceled,
	}
	for _, phase := range known {
		metrics.TenantsByPhase.WithLabelValues(string(phase)).Set(float64(counts[phase]))
	}
	for phase, c := range counts {
		if phase.Valid() {
			continue
		}
		metrics.TenantsByPhase.WithLabelValues(string(phase)).Set(float64(c))
	}
}
