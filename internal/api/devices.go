package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns every bound virtual dimmer.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one virtual dimmer with its last action and the
// state of both press machines.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, ok := s.devices.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListSources returns the source switches hidden by anyone.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeUnavailable(w, "source registry not configured")
		return
	}

	hidden, err := s.sources.ListHidden(r.Context())
	if err != nil {
		s.logger.Error("failed to list hidden sources", "error", err)
		writeInternalError(w, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": hidden, "count": len(hidden)})
}
