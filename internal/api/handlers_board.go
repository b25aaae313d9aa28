package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jordanhubbard/ouroboros/internal/kanban"
)

func (s *Server) boardReady(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if s.board == nil {
		s.respondError(w, http.StatusServiceUnavailable, "board integration not configured")
		return false
	}
	return true
}

func (s *Server) respondBoardError(w http.ResponseWriter, err error) {
	if errors.Is(err, kanban.ErrProjectNotFound) || errors.Is(err, kanban.ErrColumnNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondError(w, http.StatusBadGateway, err.Error())
}

// handleBoardEpics handles POST /api/v1/board/epics
func (s *Server) handleBoardEpics(w http.ResponseWriter, r *http.Request) {
	if !s.boardReady(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := s.parseJSON(r, &req); err != nil || strings.TrimSpace(req.Title) == "" {
		s.respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	epic, err := s.board.CreateEpic(r.Context(), req.Title, req.Description)
	if err != nil {
		s.respondBoardError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, epic)
}

// handleBoardBacklog handles POST /api/v1/board/backlog. On a partial
// failure the issues already created are returned with the error.
func (s *Server) handleBoardBacklog(w http.ResponseWriter, r *http.Request) {
	if !s.boardReady(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Project string   `json:"project"`
		Tasks   []string `json:"tasks"`
	}
	if err := s.parseJSON(r, &req); err != nil || req.Project == "" {
		s.respondError(w, http.StatusBadRequest, "project is required")
		return
	}
	created, err := s.board.PopulateBacklog(r.Context(), req.Project, req.Tasks)
	if err != nil {
		if errors.Is(err, kanban.ErrProjectNotFound) || errors.Is(err, kanban.ErrColumnNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"created": created,
		})
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"created": created})
}

// handleBoardNext handles GET /api/v1/board/next. 204 means no board offers work.
func (s *Server) handleBoardNext(w http.ResponseWriter, r *http.Request) {
	if !s.boardReady(w, r, http.MethodGet) {
		return
	}
	issue, err := s.board.FetchNextAvailableTask(r.Context())
	if err != nil {
		s.respondBoardError(w, err)
		return
	}
	if issue == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondJSON(w, http.StatusOK, issue)
}

// handleBoardMove handles POST /api/v1/board/move
func (s *Server) handleBoardMove(w http.ResponseWriter, r *http.Request) {
	if !s.boardReady(w, r, http.MethodPost) {
		return
	}
	var req struct {
		IssueNumber int    `json:"issue_number"`
		Project     string `json:"project"`
		Column      string `json:"column"`
	}
	if err := s.parseJSON(r, &req); err != nil || req.IssueNumber <= 0 || req.Project == "" || req.Column == "" {
		s.respondError(w, http.StatusBadRequest, "issue_number, project and column are required")
		return
	}
	if err := s.board.MoveIssueToColumn(r.Context(), req.IssueNumber, req.Project, req.Column); err != nil {
		s.respondBoardError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"issue_number": req.IssueNumber,
		"column":       req.Column,
	})
}

// handleBoardFeatures handles POST /api/v1/board/features. When the tracker
// integration is disabled no project is created and 204 is returned.
func (s *Server) handleBoardFeatures(w http.ResponseWriter, r *http.Request) {
	if !s.boardReady(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := s.parseJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	project, err := s.board.CreateFeatureProject(r.Context(), req.Name, req.Description)
	if err != nil {
		s.respondBoardError(w, err)
		return
	}
	if project == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondJSON(w, http.StatusCreated, project)
}
