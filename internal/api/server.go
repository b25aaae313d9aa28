// Package api serves the ouroboros admin HTTP API.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/ouroboros/internal/auth"
	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/kanban"
	"github.com/jordanhubbard/ouroboros/internal/lifecycle"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
	"github.com/jordanhubbard/ouroboros/internal/provider"
	"github.com/jordanhubbard/ouroboros/internal/scheduler"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/trackersync"
)

// Deps are the components the API exposes. Nil Board, Syncer, Logs and
// Metrics are tolerated; the matching endpoints answer 503 or are skipped.
type Deps struct {
	Store     store.Store
	Lifecycle *lifecycle.Engine
	Poller    *scheduler.Loop
	Syncer    *scheduler.Loop
	Tracker   *trackersync.Engine
	Board     *kanban.Adapter
	Registry  *provider.Registry
	Events    *events.EventBus
	Logs      *logging.Buffer
	Auth      *auth.Manager
	Metrics   *metrics.Metrics
	Version   string
}

// Server represents the HTTP API server
type Server struct {
	store     store.Store
	lifecycle *lifecycle.Engine
	poller    *scheduler.Loop
	syncer    *scheduler.Loop
	tracker   *trackersync.Engine
	board     *kanban.Adapter
	registry  *provider.Registry
	events    *events.EventBus
	logs      *logging.Buffer
	auth      *auth.Manager
	metrics   *metrics.Metrics
	version   string
	started   time.Time
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	return &Server{
		store:     d.Store,
		lifecycle: d.Lifecycle,
		poller:    d.Poller,
		syncer:    d.Syncer,
		tracker:   d.Tracker,
		board:     d.Board,
		registry:  d.Registry,
		events:    d.Events,
		logs:      d.Logs,
		auth:      d.Auth,
		metrics:   d.Metrics,
		version:   d.Version,
		started:   time.Now(),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Probes and metrics
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	// Work items
	mux.HandleFunc("/api/v1/work-items", s.handleWorkItems)
	mux.HandleFunc("/api/v1/work-items/", s.handleWorkItem)

	// Lifecycle agent
	mux.HandleFunc("/api/v1/agent/status", s.handleAgentStatus)
	mux.HandleFunc("/api/v1/agent/trigger", s.handleAgentTrigger)
	mux.HandleFunc("/api/v1/backends", s.handleBackends)

	// Tracker sync
	mux.HandleFunc("/api/v1/tracker/status", s.handleTrackerStatus)
	mux.HandleFunc("/api/v1/tracker/sync", s.handleTrackerSync)
	mux.HandleFunc("/api/v1/tracker/enabled", s.handleTrackerEnabled)

	// Kanban board
	mux.HandleFunc("/api/v1/board/epics", s.handleBoardEpics)
	mux.HandleFunc("/api/v1/board/backlog", s.handleBoardBacklog)
	mux.HandleFunc("/api/v1/board/next", s.handleBoardNext)
	mux.HandleFunc("/api/v1/board/move", s.handleBoardMove)
	mux.HandleFunc("/api/v1/board/features", s.handleBoardFeatures)

	// Events and logs
	mux.HandleFunc("/api/v1/events", s.handleGetEvents)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventStream)
	mux.HandleFunc("/ws/events", s.handleEventSocket)
	mux.HandleFunc("/api/v1/logs", s.handleLogsRecent)

	// Auth
	if s.auth != nil {
		mux.HandleFunc("/api/v1/auth/token", s.auth.HandleToken)
	}

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware("/healthz", "/readyz", "/metrics", "/api/v1/auth/token")(handler)
	}
	return s.loggingMiddleware(handler)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// loggingMiddleware logs each request and records HTTP metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	log := logging.Component("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeLabel(r.URL.Path)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())
		}
		ev := log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Ctx(r.Context()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}

// routeLabel collapses ids out of the path to keep metric cardinality bounded.
func routeLabel(path string) string {
	const prefix = "/api/v1/work-items/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	if strings.HasSuffix(path, "/process") {
		return prefix + "{id}/process"
	}
	return prefix + "{id}"
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the first path segment after prefix.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.Trim(id, "/")
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}

// queryInt reads a positive integer query parameter, or def.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
