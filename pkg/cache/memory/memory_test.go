package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quickpe/pkg/cache"
)

func newTestCache(maxSize int) *MemoryCache {
	return NewMemoryCache(MemoryCacheConfig{
		LayerConfig:     cache.LayerConfig{Name: "test", DefaultTTL: time.Hour},
		MaxSize:         maxSize,
		CleanupInterval: time.Minute,
	})
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()

	_, err := c.Get(ctx, "account:missing")
	if !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := c.Set(ctx, "account:1", []byte(`{"name":"Asha"}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := c.Get(ctx, "account:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"name":"Asha"}` {
		t.Errorf("Unexpected value %s", value)
	}
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()

	in := []byte("abc")
	if err := c.Set(ctx, "k", in, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	in[0] = 'x'

	out, _ := c.Get(ctx, "k")
	if string(out) != "abc" {
		t.Errorf("Cache aliased caller input: %s", out)
	}
	out[1] = 'y'

	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("Cache aliased returned value: %s", again)
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()

	_ = c.Set(ctx, "account:1", []byte("v"), 0)

	if err := c.Delete(ctx, "account:1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "account:1"); !cache.IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}

	// deleting a missing key is not an error
	if err := c.Delete(ctx, "account:1"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	now := time.Now()
	c.mu.Lock()
	c.now = func() time.Time { return now }
	c.mu.Unlock()

	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed before expiration: %v", err)
	}

	c.mu.Lock()
	now = now.Add(time.Second)
	c.mu.Unlock()

	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Errorf("Expected not found after expiration, got %v", err)
	}
}

func TestMemoryCache_MaxTTL(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{
		LayerConfig: cache.LayerConfig{DefaultTTL: time.Second, MaxTTL: time.Minute},
	})
	defer c.Close()

	now := time.Now()
	c.mu.Lock()
	c.now = func() time.Time { return now }
	c.mu.Unlock()

	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), 24*time.Hour)

	c.mu.Lock()
	now = now.Add(2 * time.Minute)
	c.mu.Unlock()

	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Errorf("Expected TTL to be capped at MaxTTL, got %v", err)
	}
	if c.Name() != "memory" {
		t.Errorf("Expected default name memory, got %s", c.Name())
	}
}

func TestMemoryCache_LRU(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	ctx := context.Background()

	_ = c.Set(ctx, "key1", []byte("value1"), 0)
	_ = c.Set(ctx, "key2", []byte("value2"), 0)

	// touch key1 so key2 becomes least recently used
	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Fatalf("Get key1 failed: %v", err)
	}

	_ = c.Set(ctx, "key3", []byte("value3"), 0)

	if _, err := c.Get(ctx, "key2"); !cache.IsNotFound(err) {
		t.Errorf("Expected key2 to be evicted, got %v", err)
	}
	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Errorf("Expected key1 to survive, got %v", err)
	}
	if _, err := c.Get(ctx, "key3"); err != nil {
		t.Errorf("Expected key3 present, got %v", err)
	}

	if stats := c.Stats(); stats.Size != 2 || stats.MaxSize != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestMemoryCache_InvalidKey(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()

	tests := []struct {
		name string
		op   func() error
	}{
		{"get", func() error { _, err := c.Get(ctx, ""); return err }},
		{"set", func() error { return c.Set(ctx, "has space", []byte("v"), 0) }},
		{"delete", func() error { return c.Delete(ctx, "") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); err == nil {
				t.Error("Expected invalid key error")
			}
		})
	}
}

func TestMemoryCache_Close(t *testing.T) {
	c := newTestCache(0)
	_ = c.Set(context.Background(), "k", []byte("v"), 0)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if c.Stats().Size != 0 {
		t.Error("Expected cache to be empty after Close")
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := newTestCache(100)
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("account:%d", (id+j)%150)
				_ = c.Set(ctx, key, []byte(key), 0)
				_, _ = c.Get(ctx, key)
				if j%10 == 0 {
					_ = c.Delete(ctx, key)
				}
			}
		}(i)
	}

	wg.Wait()

	if size := c.Stats().Size; size > 100 {
		t.Errorf("Cache exceeded MaxSize: %d", size)
	}
}
