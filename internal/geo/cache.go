package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"devicetrust/internal/geo/domain"
)

const cacheKeyPrefix = "devicetrust:geo:"

// CachedLookup caches positive results of another Lookup in Redis.
// Cache errors are logged and bypassed; misses (nil results) are not cached.
type CachedLookup struct {
	next Lookup
	rdb  redis.UniversalClient
	ttl  time.Duration
}

// NewCachedLookup wraps next with a Redis cache. A non-positive ttl defaults to 6h.
func NewCachedLookup(next Lookup, rdb redis.UniversalClient, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl}
}

// Lookup returns the cached location for ip, falling through to the wrapped Lookup.
func (c *CachedLookup) Lookup(ctx context.Context, ip string) *domain.Info {
	if ip == "" {
		return c.next.Lookup(ctx, ip)
	}
	key := cacheKeyPrefix + ip
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var info domain.Info
		if jerr := json.Unmarshal(raw, &info); jerr == nil {
			return &info
		}
		zap.L().Warn("geo: dropping corrupt cache entry", zap.String("ip", ip))
	case !errors.Is(err, redis.Nil):
		zap.L().Warn("geo: cache read failed", zap.String("ip", ip), zap.Error(err))
	}

	info := c.next.Lookup(ctx, ip)
	if info == nil {
		return nil
	}
	if b, err := json.Marshal(info); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			zap.L().Warn("geo: cache write failed", zap.String("ip", ip), zap.Error(err))
		}
	}
	return info
}
