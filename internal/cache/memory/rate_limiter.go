// Package memory provides single-process implementations of the cache
// interfaces, used when Redis is not configured and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// RateLimiter is an in-process sliding-window limiter. Each key keeps the
// timestamps of the calls admitted inside the trailing window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// WithClock replaces the time source.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow reports whether one more call for key fits in the trailing window
// and, if so, counts it.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := rl.now()
	cutoff := now.Add(-window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
