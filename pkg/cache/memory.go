package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/boogy/jwt-forge/pkg/types"
)

// MemoryCache keeps key sets in process only.
type MemoryCache struct {
	local *localLRU
}

func NewMemoryCache(maxSize int, defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{local: newLocalLRU(maxSize, defaultTTL)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*types.JWKS, bool) {
	value, found := c.local.get(key)
	if !found {
		slog.Debug("Cache miss", "key", key)
		return nil, false
	}
	slog.Debug("Cache hit", "key", key)
	return value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value *types.JWKS, ttl time.Duration) {
	var expiration time.Time
	if ttl > 0 {
		expiration = c.local.now().Add(ttl)
	}
	c.local.set(key, value, expiration)
	slog.Debug("Cached value", "key", key, "ttl", ttl)
}

// Cleanup removes all expired items from the cache
func (c *MemoryCache) Cleanup() {
	if n := c.local.cleanup(); n > 0 {
		slog.Debug("Cleaned up expired cache entries", "count", n)
	}
}

// Len returns the number of entries, expired ones included until they are touched.
func (c *MemoryCache) Len() int {
	return c.local.len()
}
