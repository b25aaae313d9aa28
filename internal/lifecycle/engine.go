// Package lifecycle drives claimed work items through generation and publish
// to a terminal state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
	"github.com/jordanhubbard/ouroboros/internal/provider"
	"github.com/jordanhubbard/ouroboros/internal/publish"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/telemetry"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// Result messages recorded on terminal work items.
const (
	PromptPrefix         = "Generate code for the following goal: "
	ResultSuccess        = "Code generated and published successfully"
	ResultPublishFailed  = "Self-publish action failed"
	resultGenFailed      = "Code generation failed: "
	resultEmptyResponse  = "Code generation failed: empty response"
	resultUnexpected     = "Unexpected error: "
	resultInterrupted    = "Unexpected error: processing interrupted before completion"
	terminalWriteRetries = 3
)

const (
	defaultGenerateTimeout = 2 * time.Minute
	defaultPublishTimeout  = time.Minute
)

// BackendResolver is the part of the registry the engine needs.
type BackendResolver interface {
	ResolveDefault() (provider.Backend, error)
}

// Config bounds individual collaborator calls.
type Config struct {
	GenerateTimeout time.Duration
	PublishTimeout  time.Duration
}

// Engine processes work items. It is safe for concurrent use; exclusivity per
// item comes from the store's atomic claim.
type Engine struct {
	store     store.Store
	backends  BackendResolver
	publisher publish.Publisher
	events    events.Publisher
	metrics   *metrics.Metrics
	cfg       Config
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics records lifecycle metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine.
func NewEngine(s store.Store, backends BackendResolver, publisher publish.Publisher, cfg Config, opts ...Option) *Engine {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	e := &Engine{
		store:     s,
		backends:  backends,
		publisher: publisher,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOnce claims the oldest pending item and processes it. It returns nil, nil
// when nothing is pending.
func (e *Engine) RunOnce(ctx context.Context) (*models.WorkItem, error) {
	item, err := e.store.ClaimNextPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim pending work item: %w", err)
	}
	if item == nil {
		log := logging.Component("lifecycle")
		log.Debug().Ctx(ctx).Msg("no pending work items")
		return nil, nil
	}
	e.onClaimed(ctx, item)
	return e.Process(ctx, item)
}

// ProcessByID claims a specific pending item and processes it. A lost claim
// returns store.ErrAlreadyClaimed.
func (e *Engine) ProcessByID(ctx context.Context, id string) (*models.WorkItem, error) {
	item, err := e.store.ClaimPending(ctx, id)
	if err != nil {
		return nil, err
	}
	e.onClaimed(ctx, item)
	return e.Process(ctx, item)
}

// Process drives an already-claimed (in_progress) item to a terminal state.
func (e *Engine) Process(ctx context.Context, item *models.WorkItem) (*models.WorkItem, error) {
	ctx = logging.WithWorkItemID(ctx, item.ID)
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.process", attribute.String("work_item.id", item.ID))
	log := logging.Component("lifecycle")
	start := time.Now()

	log.Info().Ctx(ctx).Str("description", item.Description).Msg("processing work item")

	status, result := e.execute(ctx, item)

	final, err := e.finish(ctx, item.ID, status, result)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("status", string(status)).Msg("failed to record terminal state")
		telemetry.EndSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("work_item.status", string(final.Status)))
	telemetry.EndSpan(span, nil)

	if final.Status == models.WorkItemStatusCompleted {
		log.Info().Ctx(ctx).Msg("work item completed")
	} else {
		log.Warn().Ctx(ctx).Str("result", final.Result).Msg("work item failed")
	}

	if e.metrics != nil {
		e.metrics.RecordTransition(string(models.WorkItemStatusInProgress), string(final.Status))
		e.metrics.RecordTerminal(string(final.Status), time.Since(start))
	}
	eventType := events.EventTypeWorkItemCompleted
	if final.Status == models.WorkItemStatusFailed {
		eventType = events.EventTypeWorkItemFailed
	}
	e.emit(eventType, final)
	return final, nil
}

// execute runs generation and publish. It never panics; every failure
// becomes a Failed status with a result message.
func (e *Engine) execute(ctx context.Context, item *models.WorkItem) (status models.WorkItemStatus, result string) {
	defer func() {
		if r := recover(); r != nil {
			status = models.WorkItemStatusFailed
			result = fmt.Sprintf("%s%v", resultUnexpected, r)
		}
	}()

	content, failure := e.generate(ctx, item)
	if failure != "" {
		return models.WorkItemStatusFailed, failure
	}

	if failure := e.publish(ctx, content); failure != "" {
		return models.WorkItemStatusFailed, failure
	}
	return models.WorkItemStatusCompleted, ResultSuccess
}

// generate returns the content, or a non-empty failure message.
func (e *Engine) generate(ctx context.Context, item *models.WorkItem) (string, string) {
	backend, err := e.backends.ResolveDefault()
	if err != nil {
		return "", resultUnexpected + err.Error()
	}
	modelID := backend.SupportedModelID()
	if !backend.IsAvailable() {
		return "", fmt.Sprintf("generation backend %s is unavailable", modelID)
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()
	genCtx, span := telemetry.StartSpan(genCtx, "lifecycle.generate", attribute.String("model_id", modelID))

	start := time.Now()
	resp := backend.Generate(genCtx, provider.NewRequest(PromptPrefix+item.Description, modelID))
	elapsed := time.Since(start)

	if resp == nil {
		resp = &provider.Response{}
	}
	if e.metrics != nil {
		var promptTokens, completionTokens int
		if resp.Usage != nil {
			promptTokens, completionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		e.metrics.RecordGeneration(modelID, resp.IsSuccess(), elapsed, promptTokens, completionTokens)
	}

	switch {
	case resp.IsError():
		telemetry.EndSpan(span, errors.New(resp.Error))
		return "", resultGenFailed + resp.Error
	case !resp.IsSuccess():
		telemetry.EndSpan(span, errors.New("empty response"))
		return "", resultEmptyResponse
	}

	telemetry.EndSpan(span, nil)
	log := logging.Component("lifecycle")
	evt := log.Info().Ctx(ctx).Str("model_id", modelID).Dur("elapsed", elapsed)
	if resp.Usage != nil {
		evt = evt.Int("total_tokens", resp.Usage.TotalTokens)
	}
	evt.Msg("code generation succeeded")
	return resp.Content, ""
}

// publish returns a non-empty failure message when publishing did not succeed.
func (e *Engine) publish(ctx context.Context, content string) string {
	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()
	pubCtx, span := telemetry.StartSpan(pubCtx, "lifecycle.publish")

	ok, err := e.publisher.Publish(pubCtx, content)
	telemetry.EndSpan(span, err)
	if err != nil {
		return ResultPublishFailed + ": " + err.Error()
	}
	if !ok {
		return ResultPublishFailed
	}
	return ""
}

// finish records the terminal state, retrying transient store errors.
func (e *Engine) finish(ctx context.Context, id string, status models.WorkItemStatus, result string) (*models.WorkItem, error) {
	var lastErr error
	for attempt := 0; attempt < terminalWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		// The item must be finalized even if the caller's context was cancelled mid-run.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		final, err := e.store.Transition(writeCtx, id, models.WorkItemStatusInProgress, status, result)
		cancel()
		if err == nil {
			return final, nil
		}
		lastErr = err
		if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			break
		}
	}
	return nil, fmt.Errorf("record %s for work item %s: %w", status, id, lastErr)
}

// RecoverStale fails in_progress items last touched before olderThan. Those
// were claimed by a process that stopped before finishing them.
func (e *Engine) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := e.store.FindByStatus(ctx, models.WorkItemStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("find in-progress work items: %w", err)
	}
	log := logging.Component("lifecycle")
	cutoff := time.Now().Add(-olderThan)
	recovered := 0
	for _, item := range items {
		if item.UpdatedAt.After(cutoff) {
			continue
		}
		final, err := e.store.Transition(ctx, item.ID, models.WorkItemStatusInProgress, models.WorkItemStatusFailed, resultInterrupted)
		if err != nil {
			log.Warn().Err(err).Str("work_item_id", item.ID).Msg("failed to recover stale work item")
			continue
		}
		recovered++
		e.emit(events.EventTypeWorkItemFailed, final)
		log.Warn().Str("work_item_id", item.ID).Msg("recovered stale in-progress work item")
	}
	return recovered, nil
}

func (e *Engine) onClaimed(ctx context.Context, item *models.WorkItem) {
	if e.metrics != nil {
		e.metrics.RecordTransition(string(models.WorkItemStatusPending), string(models.WorkItemStatusInProgress))
	}
	e.emit(events.EventTypeWorkItemClaimed, item)
}

func (e *Engine) emit(eventType events.EventType, item *models.WorkItem) {
	if e.events == nil {
		return
	}
	data := map[string]interface{}{"status": string(item.Status)}
	if item.Result != "" {
		data["result"] = item.Result
	}
	if err := e.events.Publish(&events.Event{
		Type:       eventType,
		Source:     "lifecycle",
		WorkItemID: item.ID,
		Data:       data,
	}); err != nil {
		log := logging.Component("lifecycle")
		log.Debug().Err(err).Str("type", string(eventType)).Msg("dropped event")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordEvent(string(eventType))
	}
}
