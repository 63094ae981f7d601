package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/metrics"
)

// Cached fronts another Gateway with a Redis read-through cache.
// Cache failures are logged and the backend is consulted directly.
type Cached struct {
	next    Gateway
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewCached wraps next. A non-positive ttl defaults to 30s.
func NewCached(next Gateway, rdb redis.UniversalClient, ttl time.Duration, m *metrics.Metrics) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, metrics: m}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func itemsKey(storeID string) string  { return "inventory:" + storeID + ":in_stock" }
func policyKey(storeID string) string { return "inventory:" + storeID + ":policy" }

func (c *Cached) InStock(ctx context.Context, storeID string) ([]Item, error) {
	var items []Item
	if c.get(ctx, itemsKey(storeID), &items) {
		c.metrics.InventoryLookup("cache")
		return FilterInStock(items), nil
	}
	c.metrics.InventoryLookup("backend")
	items, err := c.next.InStock(ctx, storeID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, itemsKey(storeID), items)
	return items, nil
}

func (c *Cached) Policy(ctx context.Context, storeID string) (Policy, error) {
	var p Policy
	if c.get(ctx, policyKey(storeID), &p) {
		return p, nil
	}
	p, err := c.next.Policy(ctx, storeID)
	if err != nil {
		return Policy{}, err
	}
	c.set(ctx, policyKey(storeID), p)
	return p, nil
}

// Invalidate drops cached entries for a store.
func (c *Cached) Invalidate(ctx context.Context, storeID string) error {
	return c.rdb.Del(ctx, itemsKey(storeID), policyKey(storeID)).Err()
}

func (c *Cached) get(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("inventory cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("inventory cache entry corrupt")
		return false
	}
	return true
}

func (c *Cached) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("inventory cache write failed")
	}
}
