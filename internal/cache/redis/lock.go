package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's
// token, so an expired holder cannot release a newer holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the expiry only while the caller still holds the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX plus token-checked
// extend and unlock. Finalize runs take one lock per league.
type LockManager struct {
	c        *Client
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock for key or returns an error wrapping
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lock{lm: lm, name: key, key: lk, token: token}, nil
}

type lock struct {
	lm    *LockManager
	name  string
	key   string
	token string
	once  sync.Once
}

func (l *lock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.name, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: lock %s lost: %w", l.name, domain.ErrLockHeld)
	}
	return nil
}

func (l *lock) Release() {
	l.once.Do(func() {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
	})
}

var _ domain.LockManager = (*LockManager)(nil)
