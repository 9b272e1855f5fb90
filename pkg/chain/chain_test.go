package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quickpe/pkg/cache"
	"quickpe/pkg/cache/memory"
	"quickpe/pkg/cache/mock"
	metricsmem "quickpe/pkg/metrics/memory"
	"quickpe/pkg/resilience"
)

func newMemory(name string) *memory.MemoryCache {
	return memory.NewMemoryCache(memory.MemoryCacheConfig{
		LayerConfig: cache.LayerConfig{Name: name, DefaultTTL: time.Hour},
		MaxSize:     100,
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		layers      []cache.CacheLayer
		expectError bool
		expectedLen int
	}{
		{"empty layers", nil, true, 0},
		{"single layer", []cache.CacheLayer{mock.NewMockLayer("L1")}, false, 1},
		{"three layers", []cache.CacheLayer{mock.NewMockLayer("L1"), mock.NewMockLayer("L2"), mock.NewMockLayer("L3")}, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.layers...)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer c.Close()

			if c.Len() != tt.expectedLen {
				t.Errorf("Expected length %d, got %d", tt.expectedLen, c.Len())
			}
		})
	}
}

func TestChain_Get_L1Hit(t *testing.T) {
	l1 := mock.NewMockLayerWithValues("L1", map[string][]byte{"account:1": []byte("from-l1")})
	l2 := mock.NewMockLayer("L2")

	c, err := New(l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	value, err := c.Get(context.Background(), "account:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "from-l1" {
		t.Errorf("Expected 'from-l1', got %s", value)
	}
	if l2.GetCalls() != 0 {
		t.Errorf("L2 should not be called, got %d calls", l2.GetCalls())
	}
}

func TestChain_Get_LowerHitWarmsUpperLayers(t *testing.T) {
	l1 := newMemory("L1")
	l2 := newMemory("L2")
	l3 := mock.NewMockLayerWithValues("store", map[string][]byte{"account:1": []byte("from-store")})

	c, err := NewWithConfig(ChainConfig{
		TTLStrategy: DecayingTTLStrategy{DecayFactor: 0.5},
		WarmUpTTL:   time.Minute,
	}, l1, l2, l3)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	value, err := c.Get(ctx, "account:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "from-store" {
		t.Errorf("Expected 'from-store', got %s", value)
	}

	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	for _, layer := range []*memory.MemoryCache{l1, l2} {
		if v, err := layer.Get(ctx, "account:1"); err != nil || string(v) != "from-store" {
			t.Errorf("%s not warmed: %s, %v", layer.Name(), v, err)
		}
	}

	stats := c.WriterStats()
	if len(stats) != 3 || stats[0].Applied() != 1 || stats[1].Applied() != 1 || stats[2].Accepted != 0 {
		t.Errorf("Unexpected warm-up stats %+v", stats)
	}
	if stats[0].Layer != "L1" {
		t.Errorf("Expected first writer for L1, got %q", stats[0].Layer)
	}

	// second read is served by L1
	if _, err := c.Get(ctx, "account:1"); err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	if l3.GetCalls() != 1 {
		t.Errorf("Expected store to be read once, got %d", l3.GetCalls())
	}
}

func TestChain_Get_AllMiss(t *testing.T) {
	c, err := New(mock.NewMockLayer("L1"), mock.NewMockLayer("L2"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "account:missing"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestChain_Get_LastLayerErrorWins(t *testing.T) {
	storeErr := errors.New("connection refused")
	c, err := New(mock.NewMockLayer("L1"), mock.NewFailingLayer("store", storeErr))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "account:1"); !errors.Is(err, storeErr) {
		t.Errorf("Expected store error, got %v", err)
	}
}

func TestChain_Get_SkipsFailingLayer(t *testing.T) {
	l1 := mock.NewFailingLayer("L1", cache.ErrLayerUnavailable)
	l2 := mock.NewMockLayerWithValues("L2", map[string][]byte{"account:1": []byte("v")})

	c, err := New(l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "account:1"); err != nil {
		t.Errorf("Expected fallback to L2, got %v", err)
	}
}

func TestChain_Get_SingleFlight(t *testing.T) {
	var calls int64
	release := make(chan struct{})

	l1 := mock.NewMockLayer("store")
	l1.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	c, err := NewWithConfig(ChainConfig{
		ResilientConfigs: []resilience.ResilientConfig{resilience.DefaultResilientConfig().WithTimeout(time.Second)},
	}, l1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "account:1"); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("Expected 1 underlying Get, got %d", n)
	}
}

func TestChain_Get_CancelledContext(t *testing.T) {
	c, err := New(mock.NewMockLayer("L1"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Get(ctx, "account:1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestChain_SetUsesTTLStrategy(t *testing.T) {
	var mu sync.Mutex
	ttls := map[string]time.Duration{}

	record := func(name string) *mock.MockLayer {
		l := mock.NewMockLayer(name)
		l.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			ttls[name] = ttl
			return nil
		}
		return l
	}

	c, err := NewWithConfig(ChainConfig{
		TTLStrategy: CustomTTLStrategy{TTLs: []time.Duration{time.Minute, 10 * time.Minute}},
	}, record("L1"), record("L2"), record("L3"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "account:1", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	want := map[string]time.Duration{"L1": time.Minute, "L2": 10 * time.Minute, "L3": time.Hour}
	for name, ttl := range want {
		if ttls[name] != ttl {
			t.Errorf("%s: expected TTL %v, got %v", name, ttl, ttls[name])
		}
	}
}

func TestChain_Set_PartialFailure(t *testing.T) {
	l1 := newMemory("L1")
	l2 := mock.NewFailingLayer("L2", errors.New("redis down"))

	c, err := New(l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "account:1", []byte("v"), time.Minute); err == nil {
		t.Error("Expected error from failing layer")
	}
	if _, err := l1.Get(ctx, "account:1"); err != nil {
		t.Errorf("L1 should still be written: %v", err)
	}
}

func TestChain_Delete(t *testing.T) {
	l1 := newMemory("L1")
	l2 := newMemory("L2")

	c, err := New(l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "account:1", []byte("a"), time.Minute)
	_ = c.Set(ctx, "account:2", []byte("b"), time.Minute)

	if err := c.Delete(ctx, "account:1", "account:2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, key := range []string{"account:1", "account:2"} {
		if _, err := c.Get(ctx, key); !cache.IsNotFound(err) {
			t.Errorf("%s: expected not found after delete, got %v", key, err)
		}
	}
}

func TestChain_Metrics(t *testing.T) {
	mc := metricsmem.NewMemoryCollector()

	c, err := NewWithConfig(ChainConfig{Metrics: mc}, newMemory("L1"), newMemory("L2"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	_, _ = c.Get(ctx, "account:1")
	_ = c.Set(ctx, "account:1", []byte("v"), time.Minute)
	_, _ = c.Get(ctx, "account:1")

	snap := mc.Snapshot()
	if snap.ChainMisses != 1 || snap.ChainHits != 1 || snap.ChainHitsByLayer[0] != 1 {
		t.Errorf("Unexpected chain metrics: hits=%d misses=%d byLayer=%v", snap.ChainHits, snap.ChainMisses, snap.ChainHitsByLayer)
	}

	l1 := snap.LayerMetrics["L1"]
	if l1.Hits != 1 || l1.Misses != 1 || l1.Sets != 1 {
		t.Errorf("Unexpected L1 metrics %+v", l1)
	}
}

func TestChain_CircuitOpensOnFailingLayer(t *testing.T) {
	mc := metricsmem.NewMemoryCollector()
	failing := mock.NewMockLayer("redis")
	failing.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, cache.ErrLayerUnavailable
	}
	store := mock.NewMockLayerWithValues("store", map[string][]byte{"account:1": []byte("v")})

	trip := resilience.DefaultResilientConfig()
	trip.CircuitBreakerConfig.ReadyToTrip = func(counts resilience.Counts) bool {
		return counts.TotalFailures >= 2
	}

	c, err := NewWithConfig(ChainConfig{
		Metrics:          mc,
		ResilientConfigs: []resilience.ResilientConfig{trip, resilience.DefaultResilientConfig()},
	}, failing, store)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx, "account:1"); err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
	}

	// two real failures, then the breaker short-circuits
	if failing.GetCalls() != 2 {
		t.Errorf("Expected 2 calls to failing layer, got %d", failing.GetCalls())
	}
	if lm := mc.GetLayerMetrics("redis"); lm == nil || lm.CircuitOpens != 1 {
		t.Errorf("Expected one circuit open, got %+v", lm)
	}
}

func TestChain_LayersAndString(t *testing.T) {
	c, err := New(mock.NewMockLayer("L1"), mock.NewMockLayer("redis"), mock.NewMockLayer("store"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	layers := c.Layers()
	layers[0] = nil
	if c.Layers()[0] == nil {
		t.Error("Layers should return a copy")
	}

	if s := c.String(); !strings.Contains(s, "L1 -> redis -> store") {
		t.Errorf("Unexpected String(): %s", s)
	}
}

func TestChain_Close(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l2 := mock.NewMockLayer("L2")

	c, err := New(l1, l2)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Errorf("Expected each layer closed once, got %d and %d", l1.CloseCalls(), l2.CloseCalls())
	}
}
