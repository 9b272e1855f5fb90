package cache

import (
	"context"
	"time"
)

// CacheLayer defines the interface that all cache layer implementations must satisfy.
// Values are opaque byte slices; callers encode domain values with the JSON
// helpers in codec.go so that every layer (in-process, Redis, store-backed)
// round-trips the same representation.
type CacheLayer interface {
	// Get retrieves a value from the cache by key.
	// Returns ErrKeyNotFound (possibly wrapped) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the specified key and time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache by key.
	// Returns nil if the key was deleted or didn't exist.
	Delete(ctx context.Context, key string) error

	// Name returns the identifier for this cache layer (e.g., "L1", "redis", "store").
	// Used for logging, metrics, and debugging.
	Name() string

	// Close releases any resources held by the cache layer.
	Close() error
}
