package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// CreateWorkItemRequest is the body of POST /api/v1/work-items.
type CreateWorkItemRequest struct {
	Description string `json:"description"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// handleWorkItems handles GET/POST /api/v1/work-items
func (s *Server) handleWorkItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listWorkItems(w, r)
	case http.MethodPost:
		s.createWorkItem(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// listWorkItems returns items oldest first, optionally filtered by ?status=.
func (s *Server) listWorkItems(w http.ResponseWriter, r *http.Request) {
	var (
		items []*models.WorkItem
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, perr := models.ParseWorkItemStatus(raw)
		if perr != nil {
			s.respondError(w, http.StatusBadRequest, perr.Error())
			return
		}
		items, err = s.store.FindByStatus(r.Context(), status)
	} else {
		items, err = s.store.List(r.Context())
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []*models.WorkItem{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"work_items": items,
		"count":      len(items),
	})
}

func (s *Server) createWorkItem(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkItemRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := models.ValidateDescription(req.Description); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := models.NewWorkItem(req.Description, req.CreatedBy)
	if err := s.store.Create(r.Context(), item); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publish(&events.Event{
		Type:       events.EventTypeWorkItemCreated,
		Source:     "api",
		WorkItemID: item.ID,
		Data:       map[string]interface{}{"created_by": item.CreatedBy},
	})
	s.respondJSON(w, http.StatusCreated, item)
}

// handleWorkItem handles GET /api/v1/work-items/{id} and
// POST /api/v1/work-items/{id}/process
func (s *Server) handleWorkItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/work-items/")
	id := s.extractID(path, "")
	if id == "" {
		s.respondError(w, http.StatusNotFound, "work item id is required")
		return
	}
	action := strings.Trim(strings.TrimPrefix(strings.Trim(path, "/"), id), "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		item, err := s.store.FindByID(r.Context(), id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, item)
	case action == "process" && r.Method == http.MethodPost:
		item, err := s.lifecycle.ProcessByID(r.Context(), id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, item)
	case action == "" || action == "process":
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		s.respondError(w, http.StatusNotFound, "unknown work item action: "+action)
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyClaimed), errors.Is(err, store.ErrStaleStatus):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) publish(event *events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(event); err == nil && s.metrics != nil {
		s.metrics.RecordEvent(string(event.Type))
	}
}
