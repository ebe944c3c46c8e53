package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/internal/registry"
	"github.com/nerrad567/btlesniffer/internal/sink"
)

// deviceResponse is a registry record plus its stored history, if any.
type deviceResponse struct {
	registry.Record
	History *sink.DeviceSummary `json:"history,omitempty"`
}

// handleListDevices returns registry records, optionally filtered by state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []registry.Record

	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := registry.ParseState(raw)
		if !ok {
			writeBadRequest(w, "unknown state: "+raw)
			return
		}
		devices = s.registry.ListByState(state)
	} else {
		devices = s.registry.List()
	}

	if devices == nil {
		devices = []registry.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDevice returns one registry record by BLE address.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	identifier, err := radio.NormalizeAddress(chi.URLParam(r, "identifier"))
	if err != nil {
		writeBadRequest(w, "identifier must be a BLE address like AA:BB:CC:DD:EE:FF")
		return
	}

	rec, ok := s.registry.Get(identifier)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	resp := deviceResponse{Record: rec}
	if s.store != nil {
		summary, err := s.store.Device(r.Context(), identifier)
		switch {
		case err == nil:
			resp.History = &summary
		case errors.Is(err, sink.ErrNotFound):
		default:
			s.logger.Warn("reading device history failed", "identifier", identifier, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
