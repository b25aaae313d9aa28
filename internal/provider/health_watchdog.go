package provider

import (
	"context"
	"time"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// HealthWatchdog periodically reports backend availability and logs changes.
type HealthWatchdog struct {
	registry *Registry
	interval time.Duration
	report   func(modelID string, available bool)
	last     map[string]bool
}

// NewHealthWatchdog creates a watchdog. report may be nil.
func NewHealthWatchdog(registry *Registry, interval time.Duration, report func(modelID string, available bool)) *HealthWatchdog {
	return &HealthWatchdog{
		registry: registry,
		interval: interval,
		report:   report,
		last:     make(map[string]bool),
	}
}

// Run checks backends until ctx is done.
func (w *HealthWatchdog) Run(ctx context.Context) {
	w.Check()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Check evaluates every backend once.
func (w *HealthWatchdog) Check() {
	log := logging.Component("provider")
	for _, st := range w.registry.Status() {
		if w.report != nil {
			w.report(st.ModelID, st.Available)
		}
		prev, seen := w.last[st.ModelID]
		if !seen || prev != st.Available {
			if st.Available {
				log.Info().Str("model_id", st.ModelID).Msg("generation backend available")
			} else {
				log.Warn().Str("model_id", st.ModelID).Msg("generation backend unavailable")
			}
		}
		w.last[st.ModelID] = st.Available
	}
}
