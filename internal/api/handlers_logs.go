package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// handleLogsRecent returns recent log entries
// GET /api/v1/logs?limit=&level=&component=&work_item_id=&since=
func (s *Server) handleLogsRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.logs == nil {
		s.respondError(w, http.StatusServiceUnavailable, "log buffer not available")
		return
	}

	q := r.URL.Query()
	filter := logging.Filter{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		WorkItemID: q.Get("work_item_id"),
		Limit:      queryInt(r, "limit", 100),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'since' parameter: %v", err))
			return
		}
		filter.Since = ts
	}

	logs := s.logs.Recent(filter)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
