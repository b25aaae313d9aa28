// Package lease provides named, expiring mutual exclusion so that only one
// replica runs a tracker sync cycle at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/ouroboros/internal/database"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

// ErrHeld is returned when another holder owns an unexpired lease.
var ErrHeld = errors.New("lease held by another instance")

// Lock is an acquired lease.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires named leases.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// New builds the locker selected by cfg. db is required for the database backend.
func New(cfg config.LeaseConfig, db *database.Database) (Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLockerFromURL(cfg.RedisURL)
	case "database":
		if db == nil {
			return nil, errors.New("database lease backend requires a database")
		}
		if !db.SupportsHA() {
			log := logging.Component("lease")
			log.Warn().Msg("database lease on sqlite only excludes processes sharing the same file")
		}
		return NewDatabaseLocker(db), nil
	}
	return nil, fmt.Errorf("unsupported lease backend %q", cfg.Backend)
}

// DatabaseLocker stores leases in the distributed_locks table.
type DatabaseLocker struct {
	db *database.Database
}

// NewDatabaseLocker wraps db.
func NewDatabaseLocker(db *database.Database) *DatabaseLocker {
	return &DatabaseLocker{db: db}
}

func (l *DatabaseLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	lock, err := l.db.AcquireLock(ctx, name, ttl)
	if errors.Is(err, database.ErrLockHeld) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
