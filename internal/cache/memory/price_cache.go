package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

type priceEntry struct {
	price     float64
	expiresAt time.Time
}

// PriceCache is an in-process domain.PriceCache. Entries expire ttl after
// they were written; a zero ttl keeps them forever.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]priceEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{prices: make(map[string]priceEntry), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (pc *PriceCache) WithClock(now func() time.Time) *PriceCache {
	pc.now = now
	return pc
}

// SetPrice stores the latest side-A price for a market. The expiry is
// measured from the time of the write, not from ts.
func (pc *PriceCache) SetPrice(_ context.Context, marketID string, price float64, _ time.Time) error {
	e := priceEntry{price: price}
	if pc.ttl > 0 {
		e.expiresAt = pc.now().Add(pc.ttl)
	}
	pc.mu.Lock()
	pc.prices[marketID] = e
	pc.mu.Unlock()
	return nil
}

// GetPrices returns the unexpired prices among marketIDs.
func (pc *PriceCache) GetPrices(_ context.Context, marketIDs []string) (map[string]float64, error) {
	now := pc.now()
	out := make(map[string]float64, len(marketIDs))

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	for _, id := range marketIDs {
		e, ok := pc.prices[id]
		if !ok {
			continue
		}
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		out[id] = e.price
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
