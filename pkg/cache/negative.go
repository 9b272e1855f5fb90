package cache

import (
	"context"
	"sync"
	"time"
)

// NegativeCacheLayer remembers "not found" answers from a slow layer for a
// short time so repeated lookups of unknown keys (typo'd recipient ids,
// deleted accounts) do not reach the backing store every time.
//
// Set and Delete both forget the negative entry: Set because the key now
// exists, Delete because an invalidation must never turn a present key into
// a cached absence.
type NegativeCacheLayer struct {
	layer       CacheLayer
	negatives   map[string]time.Time
	negativeTTL time.Duration
	mu          sync.RWMutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	now         func() time.Time
}

// NewNegativeCacheLayer creates a new negative cache layer wrapper.
// negativeTTL determines how long to cache "not found" results.
func NewNegativeCacheLayer(layer CacheLayer, negativeTTL time.Duration) *NegativeCacheLayer {
	if negativeTTL <= 0 {
		negativeTTL = 10 * time.Second
	}

	ncl := &NegativeCacheLayer{
		layer:       layer,
		negatives:   make(map[string]time.Time),
		negativeTTL: negativeTTL,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		now:         time.Now,
	}

	go ncl.cleanup()

	return ncl
}

// Name returns the name of the underlying cache layer.
func (ncl *NegativeCacheLayer) Name() string {
	return ncl.layer.Name() + "-negative"
}

// Get retrieves a value, answering from the negative cache when possible.
func (ncl *NegativeCacheLayer) Get(ctx context.Context, key string) ([]byte, error) {
	if ncl.isNegative(key) {
		return nil, ErrKeyNotFound
	}

	value, err := ncl.layer.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			ncl.remember(key)
		}
		return nil, err
	}

	return value, nil
}

// Set stores a value and clears any negative entry for the key.
func (ncl *NegativeCacheLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ncl.forget(key)
	return ncl.layer.Set(ctx, key, value, ttl)
}

// Delete removes a value and clears any negative entry for the key.
func (ncl *NegativeCacheLayer) Delete(ctx context.Context, key string) error {
	ncl.forget(key)
	return ncl.layer.Delete(ctx, key)
}

// Close stops the cleanup goroutine and closes the underlying layer.
func (ncl *NegativeCacheLayer) Close() error {
	close(ncl.stopCleanup)
	<-ncl.cleanupDone
	return ncl.layer.Close()
}

func (ncl *NegativeCacheLayer) isNegative(key string) bool {
	ncl.mu.RLock()
	defer ncl.mu.RUnlock()

	expiresAt, ok := ncl.negatives[key]
	return ok && ncl.now().Before(expiresAt)
}

func (ncl *NegativeCacheLayer) remember(key string) {
	ncl.mu.Lock()
	defer ncl.mu.Unlock()

	ncl.negatives[key] = ncl.now().Add(ncl.negativeTTL)
}

func (ncl *NegativeCacheLayer) forget(key string) {
	ncl.mu.Lock()
	defer ncl.mu.Unlock()

	delete(ncl.negatives, key)
}

// cleanup periodically drops expired negative entries.
func (ncl *NegativeCacheLayer) cleanup() {
	defer close(ncl.cleanupDone)

	ticker := time.NewTicker(ncl.negativeTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ncl.removeExpired()
		case <-ncl.stopCleanup:
			return
		}
	}
}

func (ncl *NegativeCacheLayer) removeExpired() {
	ncl.mu.Lock()
	defer ncl.mu.Unlock()

	now := ncl.now()
	for key, expiresAt := range ncl.negatives {
		if !now.Before(expiresAt) {
			delete(ncl.negatives, key)
		}
	}
}

// Stats returns statistics about the negative cache.
func (ncl *NegativeCacheLayer) Stats() NegativeCacheStats {
	ncl.mu.RLock()
	defer ncl.mu.RUnlock()

	return NegativeCacheStats{
		NegativeCount: len(ncl.negatives),
		NegativeTTL:   ncl.negativeTTL,
	}
}

// NegativeCacheStats holds statistics about negative caching.
type NegativeCacheStats struct {
	NegativeCount int
	NegativeTTL   time.Duration
}
