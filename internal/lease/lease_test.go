package lease

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/database"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lock, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "sync", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	again, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "sync", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)

	// Releasing the expired lease must not free the new holder's lease.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "sync", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_ConcurrentAcquire(t *testing.T) {
	l := NewMemoryLocker()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "sync", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestDatabaseLocker(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewDatabaseLocker(db)
	ctx := context.Background()

	lock, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "sync", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, lock.Release(ctx))
	again, err := l.Acquire(ctx, "sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestNew(t *testing.T) {
	l, err := New(config.LeaseConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, l)

	_, err = New(config.LeaseConfig{Backend: "database"}, nil)
	assert.Error(t, err)

	_, err = New(config.LeaseConfig{Backend: "redis", RedisURL: "not-a-url"}, nil)
	assert.Error(t, err)

	r, err := New(config.LeaseConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, r)
	_ = r.(*RedisLocker).Close()

	_, err = New(config.LeaseConfig{Backend: "zookeeper"}, nil)
	assert.Error(t, err)
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	l, err := NewRedisLockerFromURL("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = l.Acquire(ctx, "sync", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeld)
}
