package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/internal/sink"
)

// handleListSightings returns stored sightings, newest first.
func (s *Server) handleListSightings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeServiceUnavailable(w, "sighting store is disabled")
		return
	}

	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	identifier := ""
	if raw := q.Get("identifier"); raw != "" {
		addr, err := radio.NormalizeAddress(raw)
		if err != nil {
			writeBadRequest(w, "identifier must be a BLE address like AA:BB:CC:DD:EE:FF")
			return
		}
		identifier = addr
	}

	sightings, err := s.store.Recent(r.Context(), limit, identifier)
	if err != nil {
		s.logger.Error("listing sightings failed", "error", err)
		writeInternalError(w, "failed to list sightings")
		return
	}
	if sightings == nil {
		sightings = []sink.Sighting{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sightings": sightings,
		"count":     len(sightings),
	})
}
