// Package scheduler runs periodic work on a fixed delay with a skip-if-busy
// overlap policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
)

// Func is one unit of periodic work.
type Func func(ctx context.Context) error

// ErrPanic wraps a value recovered from a panicking run.
var ErrPanic = errors.New("run panicked")

// Stats is a snapshot of loop activity.
type Stats struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	Skipped   int64         `json:"skipped"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Pool      PoolStats     `json:"pool"`
}

// Loop invokes fn every interval, measured from the end of the previous
// timer-driven run. A tick or Trigger that finds the pool full is skipped.
type Loop struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	fn           Func
	pool         *Pool
	metrics      *metrics.Metrics

	finished chan struct{}
	runs     sync.WaitGroup

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	lastRun   time.Time
	lastError string

	runCount  atomic.Int64
	failCount atomic.Int64
	skipCount atomic.Int64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPool dispatches runs to p. The default is a private pool of one worker,
// which makes the loop strictly non-overlapping.
func WithPool(p *Pool) LoopOption {
	return func(l *Loop) { l.pool = p }
}

// WithMetrics records run outcomes to m.
func WithMetrics(m *metrics.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithInitialDelay sets the delay before the first run. The default is interval.
func WithInitialDelay(d time.Duration) LoopOption {
	return func(l *Loop) { l.initialDelay = d }
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, fn Func, opts ...LoopOption) *Loop {
	l := &Loop{
		name:         name,
		interval:     interval,
		initialDelay: interval,
		fn:           fn,
		finished:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pool == nil {
		l.pool = NewPool(1)
	}
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Start begins ticking. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.stopped = make(chan struct{})
	go l.tick(l.ctx, l.stopped)

	log := logging.Component("scheduler")
	log.Info().Str("loop", l.name).Dur("interval", l.interval).Msg("loop started")
}

// Stop cancels the loop and waits for in-flight runs to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	l.runs.Wait()

	log := logging.Component("scheduler")
	log.Info().Str("loop", l.name).Msg("loop stopped")
}

// Trigger requests an immediate run outside the schedule. It returns false
// when the loop is not started or a run cannot be dispatched.
func (l *Loop) Trigger() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return false
	}
	return l.dispatch(l.ctx, false)
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Name:      l.name,
		Interval:  l.interval,
		Running:   l.cancel != nil,
		Runs:      l.runCount.Load(),
		Failures:  l.failCount.Load(),
		Skipped:   l.skipCount.Load(),
		LastRun:   l.lastRun,
		LastError: l.lastError,
		Pool:      l.pool.Stats(),
	}
}

func (l *Loop) tick(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	timer := time.NewTimer(l.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !l.dispatch(ctx, true) {
				timer.Reset(l.interval)
			}
		case <-l.finished:
			timer.Reset(l.interval)
		}
	}
}

// dispatch submits one run. Timer-driven runs signal finished so the next
// tick is scheduled from their completion.
func (l *Loop) dispatch(ctx context.Context, fromTimer bool) bool {
	l.runs.Add(1)
	ok := l.pool.Submit(func() {
		defer l.runs.Done()
		l.execute(ctx)
		if fromTimer {
			select {
			case l.finished <- struct{}{}:
			default:
			}
		}
	})
	if !ok {
		l.runs.Done()
		l.skipCount.Add(1)
		if l.metrics != nil {
			l.metrics.RecordLoopSkipped(l.name)
		}
		log := logging.Component("scheduler")
		log.Debug().Str("loop", l.name).Msg("previous run still in flight, skipping")
	}
	return ok
}

func (l *Loop) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx = logging.WithCycleID(ctx, uuid.New().String())
	log := logging.Component("scheduler")
	start := time.Now()

	err := l.safeRun(ctx)
	elapsed := time.Since(start)

	l.runCount.Add(1)
	l.mu.Lock()
	l.lastRun = start
	l.lastError = ""
	if err != nil {
		l.lastError = err.Error()
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordLoopRun(l.name, err == nil, elapsed)
	}
	if err != nil {
		l.failCount.Add(1)
		log.Error().Ctx(ctx).Err(err).Str("loop", l.name).Dur("elapsed", elapsed).Msg("run failed")
		return
	}
	log.Debug().Ctx(ctx).Str("loop", l.name).Dur("elapsed", elapsed).Msg("run finished")
}

func (l *Loop) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return l.fn(ctx)
}
