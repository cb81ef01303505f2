package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Cache holds computed embedding vectors for a bounded time. It is a
// transient lookaside; nothing in it is authoritative.
type Cache interface {
	// Get retrieves a cached vector. ok is false on a miss.
	Get(ctx context.Context, key string) (vec []float32, ok bool, err error)

	// Set stores a vector with TTL.
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error

	// Close releases the cache.
	Close() error
}

// Key derives the cache key for one text embedded by model with the given
// normalization.
func Key(model string, normalize bool, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(normalize)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
