package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homie-core/internal/homie"
)

// handleListDevices returns every complete device, sorted by id.
//
// Query parameters:
//   - state: filter by Homie $state (ready, lost, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.Devices()

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.State == homie.State(state) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device with its nodes and properties.
// Incomplete devices are not visible and return 404.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleGetNode returns a single node of a device.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.GetNode(chi.URLParam(r, "id"), chi.URLParam(r, "nodeID"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleGetProperty returns a single property with its last known value.
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.GetProperty(
		chi.URLParam(r, "id"),
		chi.URLParam(r, "nodeID"),
		chi.URLParam(r, "propertyID"),
	)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
