package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lease",
	fx.Provide(
		fx.Annotate(NewRedisLocker, fx.As(new(Locker))),
	),
)

var ErrNotAcquired = errors.New("lease: held by another worker")

// Release gives the lease back. It is safe to call after the lease expired.
type Release func(ctx context.Context) error

// Locker hands out exclusive, expiring leases keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			zap.L().Warn("failed to release lease", zap.String("key", key), zap.Error(err))
			return err
		}
		return nil
	}, nil
}

// Local is an in-process Locker for single-worker runs and tests.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock clockwork.Clock
}

func NewLocal(clock clockwork.Clock) *Local {
	return &Local{held: map[string]time.Time{}, clock: clock}
}

func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.held[key]; ok && l.clock.Now().Before(until) {
		return nil, ErrNotAcquired
	}
	l.held[key] = l.clock.Now().Add(ttl)

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
