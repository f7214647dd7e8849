package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/homie-core/internal/homie"
	"github.com/nerrad567/homie-core/internal/journal"
)

// handleListDiscoveries returns discovery journal entries, most recent first.
//
// Query parameters:
//   - type: device_discovered, node_discovered or property_discovered
//   - device_id, node_id: exact match
//   - since: RFC3339 timestamp, inclusive
//   - limit (default 50, max 200), offset
func (s *Server) handleListDiscoveries(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "discovery journal not configured")
		return
	}

	filter, err := parseDiscoveryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, journal.ErrInvalidFilter) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("listing discoveries failed", "error", err)
		writeInternalError(w, "failed to list discoveries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseDiscoveryFilter builds a journal filter from query parameters.
func parseDiscoveryFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	filter := journal.Filter{
		EventType: homie.EventType(q.Get("type")),
		DeviceID:  q.Get("device_id"),
		NodeID:    q.Get("node_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return journal.Filter{}, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return journal.Filter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return journal.Filter{}, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}
