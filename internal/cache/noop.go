package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing. It is the default:
// every lookup is a miss and every store succeeds without storing.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Get always misses.
func (c *NoOpCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	return nil, false, nil
}

// Set does nothing and always succeeds
func (c *NoOpCache) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
