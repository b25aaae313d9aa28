package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ouroboros:lease:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX PX so leases are shared across replicas.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// NewRedisLockerFromURL connects using a redis:// URL.
func NewRedisLockerFromURL(url string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts)), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	key := redisKeyPrefix + name
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLock{client: l.client, key: key, token: token}, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (r *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", r.key, err)
	}
	return nil
}
