package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per market at
// "<prefix>:price:{marketID}" holding fields "price" and "ts". Keys expire
// after ttl so a stalled feed falls back to stored prices.
type PriceCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (pc *PriceCache) key(marketID string) string {
	return pc.c.Key("price", marketID)
}

// SetPrice stores the latest side-A price for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	key := pc.key(marketID)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrices fetches prices for several markets in one pipeline. Missing or
// malformed entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	result := make(map[string]float64, len(marketIDs))
	if len(marketIDs) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil {
			continue
		}
		result[id] = price
	}
	return result, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
