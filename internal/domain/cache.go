package domain

import (
	"context"
	"time"
)

// PriceCache holds live side-A market prices keyed by market ID. Entries
// expire after the implementation's TTL.
type PriceCache interface {
	SetPrice(ctx context.Context, key string, price float64, ts time.Time) error
	GetPrices(ctx context.Context, keys []string) (map[string]float64, error)
}

// RateLimiter is a sliding-window limiter: at most limit calls per key in
// any trailing window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held lock. It expires on its own unless extended.
type Lock interface {
	// Extend resets the expiry to ttl from now. It returns an error wrapping
	// ErrLockHeld once the lock has expired or passed to another holder.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. Calling it more than once is a no-op.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
