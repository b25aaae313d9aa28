// Package trackersync mirrors work item lifecycle changes onto tracker issues.
//
// Each cycle runs three passes against the window (cursor, cycle start]:
// issues are created for unlinked items, in-progress changes are commented,
// and terminal items are commented, labelled and closed. The cursor only
// advances when the whole cycle succeeds.
package trackersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/github"
	"github.com/jordanhubbard/ouroboros/internal/lease"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/telemetry"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// LeaseName is the lease guarding sync cycles across replicas.
const LeaseName = "tracker-sync"

// Skip reasons reported when a cycle does not run.
const (
	SkipDisabled    = "tracker sync disabled"
	SkipUnavailable = "tracker unavailable"
	SkipLeaseHeld   = "another instance is syncing"
)

// Tracker is the issue tracker surface the engine writes to.
type Tracker interface {
	IsAvailable(ctx context.Context) bool
	CreateIssue(ctx context.Context, req github.CreateIssueRequest) (*github.Issue, error)
	CommentOnIssue(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	CloseIssue(ctx context.Context, number int) error
}

// Config controls the engine.
type Config struct {
	Enabled        bool
	CursorLookback time.Duration
	LeaseTTL       time.Duration
}

// Report summarises one cycle.
type Report struct {
	CycleID    string        `json:"cycle_id"`
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Since      time.Time     `json:"since"`
	Start      time.Time     `json:"start"`
	Duration   time.Duration `json:"duration"`
	Created    int           `json:"created"`
	Commented  int           `json:"commented"`
	Closed     int           `json:"closed"`
	Failures   int           `json:"failures"`
	Errors     []string      `json:"errors,omitempty"`
}

func (r *Report) fail(format string, args ...interface{}) {
	r.Failures++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Engine runs sync cycles. Concurrent SyncOnce calls are serialised.
type Engine struct {
	store   store.Store
	tracker Tracker
	locker  lease.Locker
	events  events.Publisher
	metrics *metrics.Metrics
	ttl     time.Duration
	enabled atomic.Bool
	now     func() time.Time

	cycleMu sync.Mutex
	mu      sync.RWMutex
	cursor  time.Time
	last    *Report
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLease guards cycles with a cross-process lease.
func WithLease(l lease.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithEvents publishes a tracker.synced event after each successful cycle.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics records cycle outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine whose cursor starts CursorLookback in the past.
func NewEngine(s store.Store, tracker Tracker, cfg Config, opts ...Option) *Engine {
	if cfg.CursorLookback <= 0 {
		cfg.CursorLookback = time.Hour
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	e := &Engine{
		store:   s,
		tracker: tracker,
		ttl:     cfg.LeaseTTL,
		now:     time.Now,
	}
	e.enabled.Store(cfg.Enabled)
	e.cursor = e.now().UTC().Add(-cfg.CursorLookback)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEnabled toggles sync at runtime.
func (e *Engine) SetEnabled(enabled bool) { e.enabled.Store(enabled) }

// Enabled reports whether sync is on.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Cursor returns the lower bound of the next cycle's window.
func (e *Engine) Cursor() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// LastReport returns the most recent cycle report, or nil.
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// SyncOnce runs one cycle. A non-nil error means the cycle aborted and the
// cursor was left unchanged; per-item failures are only counted in the report.
func (e *Engine) SyncOnce(ctx context.Context) (*Report, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	report := &Report{CycleID: uuid.New().String(), Since: e.Cursor()}
	ctx = logging.WithCycleID(ctx, report.CycleID)
	log := logging.Component("trackersync")

	if !e.Enabled() {
		log.Debug().Ctx(ctx).Msg("tracker sync disabled, skipping cycle")
		return e.skip(report, SkipDisabled), nil
	}
	if !e.tracker.IsAvailable(ctx) {
		log.Warn().Ctx(ctx).Msg("tracker client not available, skipping cycle")
		return e.skip(report, SkipUnavailable), nil
	}

	if e.locker != nil {
		lock, err := e.locker.Acquire(ctx, LeaseName, e.ttl)
		if errors.Is(err, lease.ErrHeld) {
			log.Debug().Ctx(ctx).Msg("sync lease held elsewhere, skipping cycle")
			return e.skip(report, SkipLeaseHeld), nil
		}
		if err != nil {
			e.recordCycle("error")
			return report, fmt.Errorf("acquire sync lease: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				log.Warn().Err(err).Msg("failed to release sync lease")
			}
		}()
	}

	ctx, span := telemetry.StartSpan(ctx, "trackersync.cycle", attribute.String("cycle_id", report.CycleID))
	report.Start = e.now().UTC()
	log.Info().Ctx(ctx).Time("since", report.Since).Msg("starting tracker sync")

	err := e.runPasses(ctx, report)
	report.Duration = time.Since(report.Start)
	telemetry.EndSpan(span, err)

	if err != nil {
		log.Error().Ctx(ctx).Err(err).Msg("tracker sync failed")
		e.recordCycle("error")
		e.setLast(report)
		return report, err
	}

	e.mu.Lock()
	e.cursor = report.Start
	e.last = report
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetCursor(report.Start)
	}
	e.recordCycle("success")
	e.emit(report)
	log.Info().Ctx(ctx).
		Int("created", report.Created).
		Int("commented", report.Commented).
		Int("closed", report.Closed).
		Int("failures", report.Failures).
		Dur("duration", report.Duration).
		Msg("tracker sync completed")
	return report, nil
}

func (e *Engine) skip(report *Report, reason string) *Report {
	report.Skipped = true
	report.SkipReason = reason
	e.recordCycle("skipped")
	return report
}

func (e *Engine) runPasses(ctx context.Context, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker sync panicked: %v", r)
		}
	}()
	if err := e.linkNewItems(ctx, report); err != nil {
		return err
	}
	if err := e.commentStatusChanges(ctx, report); err != nil {
		return err
	}
	return e.closeFinishedItems(ctx, report)
}

// linkNewItems creates an issue for every item without one.
func (e *Engine) linkNewItems(ctx context.Context, report *Report) error {
	items, err := e.store.FindWithNullExternalID(ctx)
	if err != nil {
		return fmt.Errorf("find unlinked work items: %w", err)
	}
	log := logging.Component("trackersync")
	for _, item := range items {
		issue, err := e.tracker.CreateIssue(ctx, github.CreateIssueRequest{
			Title: IssueTitle(item),
			Body:  IssueBody(item),
		})
		if err != nil {
			e.itemFailed(report, "create", item, err)
			continue
		}
		if err := e.store.SetExternalTrackerID(ctx, item.ID, int64(issue.Number)); err != nil {
			e.itemFailed(report, "create", item, err)
			continue
		}
		report.Created++
		e.recordOp("create", true)
		e.publish(&events.Event{
			Type:       events.EventTypeWorkItemLinked,
			Source:     "trackersync",
			WorkItemID: item.ID,
			Data:       map[string]interface{}{"issue": issue.Number, "url": issue.URL},
		})
		log.Info().Ctx(ctx).Str("work_item_id", item.ID).Int("issue", issue.Number).Msg("created tracker issue")
	}
	return nil
}

// commentStatusChanges comments on linked items that entered in_progress in the window.
func (e *Engine) commentStatusChanges(ctx context.Context, report *Report) error {
	items, err := e.store.FindLinkedUpdatedSince(ctx, report.Since)
	if err != nil {
		return fmt.Errorf("find updated linked work items: %w", err)
	}
	log := logging.Component("trackersync")
	for _, item := range items {
		if item.Status != models.WorkItemStatusInProgress || !item.IsLinked() || outsideWindow(item, report) {
			continue
		}
		number := int(item.TrackerID())
		if err := e.tracker.CommentOnIssue(ctx, number, StatusComment(item)); err != nil {
			e.itemFailed(report, "comment", item, err)
			continue
		}
		report.Commented++
		e.recordOp("comment", true)
		log.Info().Ctx(ctx).Str("work_item_id", item.ID).Int("issue", number).Msg("posted status update")
	}
	return nil
}

// closeFinishedItems closes the issues of completed items, then failed ones.
func (e *Engine) closeFinishedItems(ctx context.Context, report *Report) error {
	for _, status := range []models.WorkItemStatus{models.WorkItemStatusCompleted, models.WorkItemStatusFailed} {
		items, err := e.store.FindByStatusUpdatedSince(ctx, status, report.Since)
		if err != nil {
			return fmt.Errorf("find %s work items: %w", status, err)
		}
		for _, item := range items {
			if !item.IsLinked() || outsideWindow(item, report) {
				continue
			}
			if err := e.closeIssue(ctx, item); err != nil {
				e.itemFailed(report, "close", item, err)
				continue
			}
			report.Closed++
			e.recordOp("close", true)
		}
	}
	return nil
}

// outsideWindow reports whether item changed after the cycle started. Such
// items belong to the next cycle, whose window begins at this cycle's start.
func outsideWindow(item *models.WorkItem, report *Report) bool {
	return item.UpdatedAt.After(report.Start)
}

func (e *Engine) closeIssue(ctx context.Context, item *models.WorkItem) error {
	number := int(item.TrackerID())
	if err := e.tracker.CommentOnIssue(ctx, number, FinalComment(item)); err != nil {
		return fmt.Errorf("final comment: %w", err)
	}
	if err := e.tracker.AddLabels(ctx, number, []string{statusLabel(item.Status)}); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	if err := e.tracker.CloseIssue(ctx, number); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	log := logging.Component("trackersync")
	log.Info().Ctx(ctx).Str("work_item_id", item.ID).Int("issue", number).Str("status", string(item.Status)).Msg("closed tracker issue")
	return nil
}

func (e *Engine) itemFailed(report *Report, pass string, item *models.WorkItem, err error) {
	report.fail("%s %s: %v", pass, item.ID, err)
	e.recordOp(pass, false)
	log := logging.Component("trackersync")
	log.Error().Err(err).Str("pass", pass).Str("work_item_id", item.ID).Int64("issue", item.TrackerID()).Msg("tracker operation failed")
}

func (e *Engine) setLast(report *Report) {
	e.mu.Lock()
	e.last = report
	e.mu.Unlock()
}

func (e *Engine) recordCycle(result string) {
	if e.metrics != nil {
		e.metrics.RecordSyncCycle(result)
	}
}

func (e *Engine) recordOp(pass string, ok bool) {
	if e.metrics != nil {
		e.metrics.RecordSyncOperation(pass, ok)
	}
}

func (e *Engine) emit(report *Report) {
	e.publish(&events.Event{
		Type:   events.EventTypeTrackerSynced,
		Source: "trackersync",
		Data: map[string]interface{}{
			"cycle_id":  report.CycleID,
			"created":   report.Created,
			"commented": report.Commented,
			"closed":    report.Closed,
			"failures":  report.Failures,
		},
	})
}

func (e *Engine) publish(event *events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(event); err != nil {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordEvent(string(event.Type))
	}
}
