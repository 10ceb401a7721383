package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shinehq/shinehq/internal/registry"
)

// adminHandlers is the operator support surface: retention send history,
// manual re-arming of failed drip steps, and session minting for signing in
// as a tenant. All routes sit behind the admin key.
type adminHandlers struct {
	registry *registry.Registry
	secret   []byte
}

func (h *adminHandlers) tenant(w http.ResponseWriter, tenantID string) *registry.Tenant {
	tenant, err := h.registry.Get(tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("admin: tenant lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if tenant == nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return nil
	}
	return tenant
}

type retentionSendsResponse struct {
	TenantID string                   `json:"tenant_id"`
	Sends    []registry.RetentionSend `json:"sends"`
}

// handleRetentionSends lists a tenant's drip send history, failures included.
func (h *adminHandlers) handleRetentionSends(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenant(w, r.PathValue("id"))
	if tenant == nil {
		return
	}
	sends, err := h.registry.ListRetentionSends(tenant.ID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("admin: list retention sends failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sends == nil {
		sends = []registry.RetentionSend{}
	}
	writeJSON(w, http.StatusOK, retentionSendsResponse{TenantID: tenant.ID, Sends: sends})
}

// handleRetentionRearm deletes a step's send record so the scheduler will
// attempt it again on its next pass. This is the manual retry path for a
// failed send; the scheduler itself never retries.
func (h *adminHandlers) handleRetentionRearm(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenant(w, r.PathValue("id"))
	if tenant == nil {
		return
	}
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil || step < 1 {
		writeError(w, http.StatusBadRequest, "invalid step")
		return
	}
	if err := h.registry.DeleteRetentionSend(tenant.ID, step); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Int("step", step).
			Msg("admin: re-arm retention step failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Info().Str("tenant_id", tenant.ID).Int("step", step).Msg("admin: retention step re-armed")
	w.WriteHeader(http.StatusNoContent)
}

type sessionTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueSession mints a dashboard session token for the tenant so an
// operator can see exactly what the tenant sees.
func (h *adminHandlers) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenant(w, r.PathValue("id"))
	if tenant == nil {
		return
	}
	now := time.Now().UTC()
	token, err := IssueSessionToken(h.secret, tenant.ID, DefaultSessionTTL, now)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("admin: issue session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Info().Str("tenant_id", tenant.ID).Msg("admin: support session issued")
	writeJSON(w, http.StatusOK, sessionTokenResponse{
		Token:     token,
		ExpiresAt: now.Add(DefaultSessionTTL),
	})
}
