package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"quickpe/pkg/cache"
)

// MemoryCache is an in-process LRU cache implementing cache.CacheLayer.
// Values are copied on the way in and out so callers can never mutate a
// cached account snapshot in place.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*list.Element
	lru     *list.List // front = most recently used
	config  MemoryCacheConfig
	now     func() time.Time
	stopped chan struct{}
	wg      sync.WaitGroup
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	cache.LayerConfig

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// CleanupInterval is how often to sweep expired entries
	CleanupInterval time.Duration
}

// NewMemoryCache creates a new in-memory cache with the given configuration.
// It starts a background goroutine for TTL cleanup; call Close to stop it.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		data:    make(map[string]*list.Element),
		lru:     list.New(),
		config:  config,
		now:     time.Now,
		stopped: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}

	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		return nil, cache.ErrKeyNotFound
	}

	c.lru.MoveToFront(el)
	return clone(e.value), nil
}

// Set stores a value in the cache. A ttl of 0 uses the default TTL.
// When MaxSize is reached the least recently used entry is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	expiresAt := c.now().Add(c.config.EffectiveTTL(ttl))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		e := el.Value.(*entry)
		e.value = clone(value)
		e.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return nil
	}

	if c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	c.data[key] = c.lru.PushFront(&entry{
		key:       key,
		value:     clone(value),
		expiresAt: expiresAt,
	})

	return nil
}

// Delete removes a key from the cache. Missing keys are not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*list.Element)
	c.lru.Init()
	return nil
}

// Name returns the cache layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the background cleanup goroutine and clears all data.
func (c *MemoryCache) Close() error {
	select {
	case <-c.stopped:
		return nil
	default:
	}
	close(c.stopped)
	c.wg.Wait()
	return c.Clear(context.Background())
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.data, el.Value.(*entry).key)
}

func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopped:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, el := range c.data {
		if !now.Before(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
		}
	}
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return MemoryCacheStats{
		Size:    len(c.data),
		MaxSize: c.config.MaxSize,
	}
}

// MemoryCacheStats holds cache statistics.
type MemoryCacheStats struct {
	Size    int // Current number of entries
	MaxSize int // Maximum allowed entries (0 = unlimited)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
