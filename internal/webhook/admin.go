package webhook

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/mediator"
	"github.com/replystack/commerce-bot/internal/middleware"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
)

// AdminHandler serves the authenticated operations endpoints.
type AdminHandler struct {
	tenants  tenant.Provider
	mediator *mediator.Mediator
	logger   *logger.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(tenants tenant.Provider, m *mediator.Mediator, log *logger.Logger) *AdminHandler {
	return &AdminHandler{tenants: tenants, mediator: m, logger: log}
}

// Routes registers the admin endpoints. Callers mount this behind JWT auth
// and rate limiting.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/tenants/reload", h.ReloadTenants)
	r.Post("/tenants/{tenantID}/recover", h.RecoverTenant)
	r.Get("/tenants", h.ListTenants)
}

// ReloadTenants re-reads the tenant configuration file.
func (h *AdminHandler) ReloadTenants(w http.ResponseWriter, r *http.Request) {
	if err := h.tenants.Reload(); err != nil {
		h.logger.Error("tenant reload failed",
			zap.String("requested_by", middleware.GetUserID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"tenants": h.tenants.ActiveTenants(),
	})
}

// RecoverTenant runs the recovery sweep for one tenant on demand.
func (h *AdminHandler) RecoverTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if _, err := h.tenants.Get(tenantID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant"})
		return
	}

	recovered, err := h.mediator.RecoverFailed(r.Context(), tenantID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("manual recovery completed",
		zap.String("tenant_id", tenantID),
		zap.Int("recovered", recovered),
		zap.String("requested_by", middleware.GetUserID(r.Context())),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "recovered",
		"tenant_id": tenantID,
		"count":     recovered,
	})
}

// ListTenants returns active tenant ids.
func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": h.tenants.ActiveTenants(),
	})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports readiness. The pipeline serves traffic as soon as tenant
// config is loaded; readiness exists for deployment probes.
func Ready(tenants tenant.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if len(tenants.ActiveTenants()) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no active tenants"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
