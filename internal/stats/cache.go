package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/weatherwise/telemetry/internal/monitoring"
)

// Cache is the read-through response cache for the stats endpoints.
// Redis is the shared tier so every API replica serves the same cached
// body; an in-process LRU keeps answers cheap while Redis is down.
// Cache trouble never fails a request, the caller just recomputes.
type Cache struct {
	rdb     *redis.Client
	local   *expirable.LRU[string, []byte]
	ttl     time.Duration
	logger  *slog.Logger
	metrics *monitoring.Metrics

	hits   uint64
	misses uint64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Local  int    `json:"local_entries"`
}

const localCacheSize = 64

// NewCache creates a cache with the given TTL. rdb may be nil, leaving
// only the in-process tier. metrics may be nil.
func NewCache(rdb *redis.Client, ttl time.Duration, metrics *monitoring.Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		rdb:     rdb,
		local:   expirable.NewLRU[string, []byte](localCacheSize, nil, ttl),
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// GetOrCompute returns the cached body for key, or runs compute and
// caches its JSON encoding. compute errors pass through uncached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() (interface{}, error)) ([]byte, error) {
	if body, ok := c.lookup(ctx, key); ok {
		atomic.AddUint64(&c.hits, 1)
		if c.metrics != nil {
			c.metrics.RecordCacheLookup(true)
		}
		return body, nil
	}
	atomic.AddUint64(&c.misses, 1)
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(false)
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, body)
	return body, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb != nil {
		body, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return body, true
		}
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Stats cache read failed, using local tier",
				"key", key,
				"error", err,
			)
			if body, ok := c.local.Get(key); ok {
				return body, true
			}
		}
		return nil, false
	}

	body, ok := c.local.Get(key)
	return body, ok
}

func (c *Cache) store(ctx context.Context, key string, body []byte) {
	c.local.Add(key, body)

	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.logger.Debug("Stats cache write failed",
			"key", key,
			"error", err,
		)
	}
}

// Invalidate drops one key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, key).Err()
	}
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
		Local:  c.local.Len(),
	}
}
