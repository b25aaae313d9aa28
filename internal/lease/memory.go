package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker coordinates goroutines within one process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[name]; ok && now.Before(held.expiresAt) {
		return nil, ErrHeld
	}
	token := uuid.New().String()
	l.leases[name] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{locker: l, name: name, token: token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (m *memoryLock) Release(ctx context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	// A lease that expired and was re-acquired belongs to someone else now.
	if held, ok := m.locker.leases[m.name]; ok && held.token == m.token {
		delete(m.locker.leases, m.name)
	}
	return nil
}
