package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"calltrack-platform/pkg/logger"
)

// Cache is a short-TTL JSON response cache for aggregate endpoints. It is
// nil-safe throughout: with no Redis client every call is a miss and
// every write a no-op, so the API works unchanged without Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached JSON body for key, if any. Cache errors degrade
// to a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	body, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.From(ctx).Warn("response cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	return body, true
}

// Set stores v as JSON under key for the cache TTL. Failures are logged
// and swallowed; caching is best-effort.
func (c *Cache) Set(ctx context.Context, key string, v any) {
	if c == nil || c.rdb == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
		logger.From(ctx).Warn("response cache write failed", "key", key, "err", err)
	}
}
