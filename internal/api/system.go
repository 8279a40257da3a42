package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nerrad567/switch-dimmer/internal/bridge"
	"github.com/nerrad567/switch-dimmer/internal/discovery"
)

// ReloadResponse reports the outcome of POST /reload.
type ReloadResponse struct {
	Status    string                   `json:"status"`
	Message   string                   `json:"message,omitempty"`
	Reconcile *bridge.ReconcileSummary `json:"reconcile,omitempty"`
}

// handleReload re-reads the configuration file and re-applies the device
// list. A partial discovery reconcile still counts as applied: the devices
// are bound and the failed publishes are retried on the next reload. The
// reload outlives a client that disconnects mid-request.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeUnavailable(w, "reload not configured")
		return
	}

	if claims := claimsFromContext(r.Context()); claims != nil {
		s.logger.Info("reload requested", "subject", claims.Subject)
	}
	err := s.reloader.Reload(context.WithoutCancel(r.Context()))

	resp := ReloadResponse{Status: "reloaded"}
	if sum, ok := s.devices.LastReconcile(); ok {
		resp.Reconcile = &sum
	}

	switch {
	case err == nil:
	case errors.Is(err, discovery.ErrPartialReconcile):
		resp.Status = "partial"
		resp.Message = err.Error()
	default:
		s.logger.Error("reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeReloadFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLastReconcile returns the summary of the most recent apply.
func (s *Server) handleLastReconcile(w http.ResponseWriter, _ *http.Request) {
	sum, ok := s.devices.LastReconcile()
	if !ok {
		writeNotFound(w, "no reconcile has run yet")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
