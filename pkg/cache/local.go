package cache

import (
	"sync"
	"time"

	"github.com/boogy/jwt-forge/pkg/types"
)

type cacheItem struct {
	value      *types.JWKS
	expiration time.Time
	lastAccess time.Time // For LRU eviction
}

// localLRU is the in-process layer shared by every cache type.
type localLRU struct {
	mu         sync.Mutex
	data       map[string]*cacheItem
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
}

func newLocalLRU(maxSize int, defaultTTL time.Duration) *localLRU {
	if maxSize <= 0 {
		maxSize = Defaults.MaxLocalSize
	}
	if defaultTTL <= 0 {
		defaultTTL = Defaults.TTL
	}
	return &localLRU{
		data:       make(map[string]*cacheItem),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (c *localLRU) get(key string) (*types.JWKS, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.data[key]
	if !found {
		return nil, false
	}

	now := c.now()
	if now.After(item.expiration) {
		delete(c.data, key)
		return nil, false
	}

	item.lastAccess = now
	return item.value, true
}

// set stores value until expiration; a zero expiration means now plus the default TTL.
func (c *localLRU) set(key string, value *types.JWKS, expiration time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expiration.IsZero() {
		expiration = now.Add(c.defaultTTL)
	}

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLRU()
	}

	c.data[key] = &cacheItem{
		value:      value,
		expiration: expiration,
		lastAccess: now,
	}
}

// evictLRU removes the least recently used item. Caller must hold mu.
func (c *localLRU) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for k, item := range c.data {
		if oldestKey == "" || item.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = item.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// cleanup drops expired items and returns how many were removed.
func (c *localLRU) cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.data {
		if now.After(item.expiration) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

func (c *localLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
