package api

import (
	"net/http"
)

// handleTrackerStatus handles GET /api/v1/tracker/status
func (s *Server) handleTrackerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	resp := map[string]interface{}{
		"enabled":     s.tracker.Enabled(),
		"cursor":      s.tracker.Cursor(),
		"last_report": s.tracker.LastReport(),
	}
	if s.syncer != nil {
		resp["loop"] = s.syncer.Stats()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleTrackerSync handles POST /api/v1/tracker/sync. The cycle runs in the
// request and the report is returned; cycles are serialised with the loop.
func (s *Server) handleTrackerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	report, err := s.tracker.SyncOnce(r.Context())
	if err != nil {
		s.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// handleTrackerEnabled handles GET/PUT /api/v1/tracker/enabled
func (s *Server) handleTrackerEnabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := s.parseJSON(r, &req); err != nil || req.Enabled == nil {
			s.respondError(w, http.StatusBadRequest, "enabled is required")
			return
		}
		s.tracker.SetEnabled(*req.Enabled)
		if s.board != nil {
			s.board.SetEnabled(*req.Enabled)
		}
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"enabled": s.tracker.Enabled()})
}
