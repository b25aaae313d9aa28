package api

import (
	"net/http"

	"github.com/jordanhubbard/ouroboros/internal/store"
)

// handleAgentStatus handles GET /api/v1/agent/status
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	items, err := s.store.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"counts": store.Counts(items),
	}
	if s.poller != nil {
		resp["poller"] = s.poller.Stats()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleAgentTrigger handles POST /api/v1/agent/trigger. It starts a poll
// now if a worker slot is free and answers 409 otherwise.
func (s *Server) handleAgentTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.poller == nil {
		s.respondError(w, http.StatusServiceUnavailable, "poller not running")
		return
	}
	if !s.poller.Trigger() {
		s.respondError(w, http.StatusConflict, "poller is busy")
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

// handleBackends handles GET /api/v1/backends
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"default":  s.registry.DefaultModelID(),
		"backends": s.registry.Status(),
	})
}
