package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// ErrLockHeld is returned when another holder owns an unexpired lock.
var ErrLockHeld = errors.New("lock held by another instance")

// acquireLockSQL inserts the lock row, or takes over a row whose lease has
// lapsed. Zero affected rows means a live holder kept it.
const acquireLockSQL = `
	INSERT INTO distributed_locks (lock_name, holder, acquired_at, expires_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (lock_name) DO UPDATE
	SET holder = excluded.holder, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
	WHERE distributed_locks.expires_at < excluded.acquired_at`

// DistributedLock is a held row in distributed_locks. It is renewed in the
// background until released.
type DistributedLock struct {
	db     *Database
	name   string
	holder string
	ttl    time.Duration

	done    chan struct{}
	release sync.Once
}

// AcquireLock takes the named lock for ttl. On SQLite the lock only
// coordinates processes sharing the same file.
func (d *Database) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (*DistributedLock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("acquire lock %s: ttl must be positive", lockName)
	}
	holder := uuid.NewString()
	now := utc(time.Now())

	res, err := d.db.ExecContext(ctx, d.q(acquireLockSQL), lockName, holder, now, now.Add(ttl))
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockName, err)
	}
	if n == 0 {
		return nil, ErrLockHeld
	}

	l := &DistributedLock{db: d, name: lockName, holder: holder, ttl: ttl, done: make(chan struct{})}
	go l.renew()
	return l, nil
}

// renew extends the expiry every third of the ttl. It stops once the row no
// longer belongs to this holder.
func (l *DistributedLock) renew() {
	log := logging.Component("database")
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res, err := l.db.db.ExecContext(ctx,
			l.db.q(`UPDATE distributed_locks SET expires_at = ? WHERE lock_name = ? AND holder = ?`),
			utc(time.Now().Add(l.ttl)), l.name, l.holder)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("lock", l.name).Msg("lock renewal failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Warn().Str("lock", l.name).Msg("lock lost to another holder")
			return
		}
	}
}

// Release stops renewal and deletes the row if this holder still owns it.
// Releasing twice is harmless.
func (l *DistributedLock) Release(ctx context.Context) error {
	l.release.Do(func() { close(l.done) })
	_, err := l.db.db.ExecContext(ctx,
		l.db.q(`DELETE FROM distributed_locks WHERE lock_name = ? AND holder = ?`), l.name, l.holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	return nil
}
