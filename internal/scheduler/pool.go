package scheduler

import (
	"sync"
	"sync/atomic"
)

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	MaxWorkers    int   `json:"max_workers"`
	ActiveWorkers int   `json:"active_workers"`
	Submitted     int64 `json:"submitted"`
	Rejected      int64 `json:"rejected"`
}

// Pool runs tasks on at most maxWorkers goroutines. Submit never blocks:
// a full pool rejects the task.
type Pool struct {
	slots     chan struct{}
	wg        sync.WaitGroup
	active    atomic.Int32
	submitted atomic.Int64
	rejected  atomic.Int64
}

// NewPool creates a pool. maxWorkers below 1 is treated as 1.
func NewPool(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{slots: make(chan struct{}, maxWorkers)}
}

// Submit starts task if a worker slot is free and reports whether it did.
func (p *Pool) Submit(task func()) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		p.rejected.Add(1)
		return false
	}

	p.submitted.Add(1)
	p.active.Add(1)
	p.wg.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			<-p.slots
			p.wg.Done()
		}()
		task()
	}()
	return true
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		MaxWorkers:    cap(p.slots),
		ActiveWorkers: int(p.active.Load()),
		Submitted:     p.submitted.Load(),
		Rejected:      p.rejected.Load(),
	}
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
