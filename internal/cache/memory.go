package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache keeps vectors in process memory with TTL and a capacity bound.
type MemoryCache struct {
	items *ttlcache.Cache[string, []float32]
}

// NewMemoryCache creates an in-memory cache holding at most capacity entries
// (0 means unbounded) that expire after ttl by default.
func NewMemoryCache(capacity uint64, ttl time.Duration) *MemoryCache {
	items := ttlcache.New[string, []float32](
		ttlcache.WithTTL[string, []float32](ttl),
		ttlcache.WithCapacity[string, []float32](capacity),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	)
	go items.Start()
	return &MemoryCache{items: items}
}

// Get returns a copy of the cached vector.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return append([]float32(nil), item.Value()...), true, nil
}

// Set stores a copy of vec. A non-positive ttl uses the cache default.
func (c *MemoryCache) Set(_ context.Context, key string, vec []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.items.Set(key, append([]float32(nil), vec...), ttl)
	return nil
}

// Len is the number of live entries.
func (c *MemoryCache) Len() int {
	return c.items.Len()
}

// Close stops the expiration loop.
func (c *MemoryCache) Close() error {
	c.items.Stop()
	return nil
}
