package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ouroboros
type Metrics struct {
	// Work item metrics
	WorkItemsByStatus   *prometheus.GaugeVec
	WorkItemTransitions *prometheus.CounterVec
	WorkItemsProcessed  *prometheus.CounterVec
	WorkItemDuration    *prometheus.HistogramVec

	// Generation backend metrics
	BackendAvailable *prometheus.GaugeVec
	BackendRequests  *prometheus.CounterVec
	BackendLatency   *prometheus.HistogramVec
	BackendTokens    *prometheus.CounterVec

	// Scheduler metrics
	LoopRuns     *prometheus.CounterVec
	LoopSkipped  *prometheus.CounterVec
	LoopDuration *prometheus.HistogramVec

	// Tracker sync metrics
	SyncCycles     *prometheus.CounterVec
	SyncOperations *prometheus.CounterVec
	SyncCursorAge  prometheus.Gauge

	// System metrics
	EventsPublished     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			WorkItemsByStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ouroboros_work_items",
					Help: "Number of work items by status",
				},
				[]string{"status"},
			),
			WorkItemTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_work_item_transitions_total",
					Help: "Total number of work item status transitions",
				},
				[]string{"from", "to"},
			),
			WorkItemsProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_work_items_processed_total",
					Help: "Total number of work items driven to a terminal state",
				},
				[]string{"result"},
			),
			WorkItemDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ouroboros_work_item_duration_seconds",
					Help:    "Time from claim to terminal state in seconds",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to 256s
				},
				[]string{"result"},
			),

			BackendAvailable: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ouroboros_backend_available",
					Help: "Generation backend availability (1 for available, 0 otherwise)",
				},
				[]string{"model_id"},
			),
			BackendRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_backend_requests_total",
					Help: "Total number of generation requests",
				},
				[]string{"model_id", "success"},
			),
			BackendLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ouroboros_backend_latency_seconds",
					Help:    "Generation request latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"model_id"},
			),
			BackendTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_backend_tokens_total",
					Help: "Total tokens reported by generation backends",
				},
				[]string{"model_id", "kind"},
			),

			LoopRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_loop_runs_total",
					Help: "Total number of periodic loop runs",
				},
				[]string{"loop", "result"},
			),
			LoopSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_loop_skipped_total",
					Help: "Ticks skipped because the previous run was still in flight",
				},
				[]string{"loop"},
			),
			LoopDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ouroboros_loop_duration_seconds",
					Help:    "Periodic loop run duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"loop"},
			),

			SyncCycles: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_tracker_sync_cycles_total",
					Help: "Total number of tracker sync cycles",
				},
				[]string{"result"},
			),
			SyncOperations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_tracker_sync_operations_total",
					Help: "Tracker operations performed during sync",
				},
				[]string{"pass", "result"},
			),
			SyncCursorAge: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "ouroboros_tracker_sync_cursor_age_seconds",
					Help: "Age of the tracker sync cursor in seconds",
				},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_events_published_total",
					Help: "Total number of events published",
				},
				[]string{"event_type"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ouroboros_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ouroboros_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordGeneration records one backend call.
func (m *Metrics) RecordGeneration(modelID string, success bool, latency time.Duration, promptTokens, completionTokens int) {
	m.BackendRequests.WithLabelValues(modelID, strconv.FormatBool(success)).Inc()
	m.BackendLatency.WithLabelValues(modelID).Observe(latency.Seconds())
	if promptTokens > 0 {
		m.BackendTokens.WithLabelValues(modelID, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.BackendTokens.WithLabelValues(modelID, "completion").Add(float64(completionTokens))
	}
}

// SetBackendAvailable records the availability gauge for one backend.
func (m *Metrics) SetBackendAvailable(modelID string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.BackendAvailable.WithLabelValues(modelID).Set(v)
}

// RecordTransition records a work item status transition
func (m *Metrics) RecordTransition(from, to string) {
	m.WorkItemTransitions.WithLabelValues(from, to).Inc()
}

// RecordTerminal records a work item reaching a terminal state.
func (m *Metrics) RecordTerminal(result string, elapsed time.Duration) {
	m.WorkItemsProcessed.WithLabelValues(result).Inc()
	m.WorkItemDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// SetStatusCounts replaces the per-status gauge values.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	for status, n := range counts {
		m.WorkItemsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordLoopRun records one periodic loop execution.
func (m *Metrics) RecordLoopRun(loop string, ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.LoopRuns.WithLabelValues(loop, result).Inc()
	m.LoopDuration.WithLabelValues(loop).Observe(elapsed.Seconds())
}

// RecordLoopSkipped records a tick skipped by the overlap policy.
func (m *Metrics) RecordLoopSkipped(loop string) {
	m.LoopSkipped.WithLabelValues(loop).Inc()
}

// RecordSyncCycle records a sync cycle outcome ("ok", "error", "skipped").
func (m *Metrics) RecordSyncCycle(result string) {
	m.SyncCycles.WithLabelValues(result).Inc()
}

// RecordSyncOperation records one tracker call made by a sync pass.
func (m *Metrics) RecordSyncOperation(pass string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.SyncOperations.WithLabelValues(pass, result).Inc()
}

// SetCursor records the sync cursor position.
func (m *Metrics) SetCursor(cursor time.Time) {
	m.SyncCursorAge.Set(time.Since(cursor).Seconds())
}

// RecordEvent records a published event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
