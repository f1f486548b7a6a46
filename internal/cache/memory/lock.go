package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// LockManager is an in-process domain.LockManager. Locks expire after their
// ttl so a crashed holder cannot block forever.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]uint64
	until map[string]time.Time
	seq   uint64
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]uint64),
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// WithClock replaces the time source.
func (lm *LockManager) WithClock(now func() time.Time) *LockManager {
	lm.now = now
	return lm
}

// Acquire takes the lock for key or returns an error wrapping
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if _, ok := lm.held[key]; ok && now.Before(lm.until[key]) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.seq++
	lm.held[key] = lm.seq
	lm.until[key] = now.Add(ttl)
	return &lock{lm: lm, key: key, token: lm.seq}, nil
}

type lock struct {
	lm    *LockManager
	key   string
	token uint64
	once  sync.Once
}

func (l *lock) Extend(_ context.Context, ttl time.Duration) error {
	lm := l.lm
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if lm.held[l.key] != l.token || !now.Before(lm.until[l.key]) {
		return fmt.Errorf("memory: lock %s lost: %w", l.key, domain.ErrLockHeld)
	}
	lm.until[l.key] = now.Add(ttl)
	return nil
}

func (l *lock) Release() {
	l.once.Do(func() {
		lm := l.lm
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if lm.held[l.key] == l.token {
			delete(lm.held, l.key)
			delete(lm.until, l.key)
		}
	})
}

var _ domain.LockManager = (*LockManager)(nil)
