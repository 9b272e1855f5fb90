package memory

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"quickpe/pkg/metrics"
)

// MemoryCollector implements metrics.Collector in memory. Tests use it to
// assert on what the chain and the wallet service recorded.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-layer metrics
	layerMetrics map[string]*LayerMetrics

	// Chain-level metrics
	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64

	// Wallet and HTTP
	transfers map[string]int64
	deposits  map[string]int64
	requests  map[string]int64
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	// Operation counts
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	// Async writer
	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64

	// Latencies (simple stats)
	GetLatencies   []time.Duration
	SetLatencies   []time.Duration
	AsyncLatencies []time.Duration
}

func (lm *LayerMetrics) clone() LayerMetrics {
	c := *lm
	c.GetLatencies = slices.Clone(lm.GetLatencies)
	c.SetLatencies = slices.Clone(lm.SetLatencies)
	c.AsyncLatencies = slices.Clone(lm.AsyncLatencies)
	return c
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

var _ metrics.Collector = (*MemoryCollector)(nil)

// layer returns the LayerMetrics for the given layer, creating it if needed.
// Callers must hold mc.mu.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layerMetrics[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layerMetrics[name] = lm
	}
	return lm
}

// RecordGet records a cache get operation.
func (mc *MemoryCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
	lm.GetLatencies = append(lm.GetLatencies, duration)
}

// RecordSet records a cache set operation.
func (mc *MemoryCollector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
	lm.SetLatencies = append(lm.SetLatencies, duration)
}

// RecordDelete records a cache delete operation.
func (mc *MemoryCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(layer string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if lm.CircuitState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		lm.CircuitOpens++
	}
	lm.CircuitState = state
}

// RecordQueueDepth records the current async writer queue depth.
func (mc *MemoryCollector) RecordQueueDepth(layer string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).QueueDepth = depth
}

// RecordWriteDropped records a dropped async write.
func (mc *MemoryCollector) RecordWriteDropped(layer string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).DroppedWrites++
}

// RecordAsyncWrite records an async write operation.
func (mc *MemoryCollector) RecordAsyncWrite(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.AsyncWrites++
	if !success {
		lm.AsyncErrors++
	}
	lm.AsyncLatencies = append(lm.AsyncLatencies, duration)
}

// RecordChainGet records a chain-level get operation.
func (mc *MemoryCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.chainHits++
		mc.chainHitsByLayer[layerIndex]++
	} else {
		mc.chainMisses++
	}
}

// RecordTransfer counts a transfer by outcome.
func (mc *MemoryCollector) RecordTransfer(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transfers[outcome]++
}

// RecordDeposit counts a deposit by outcome.
func (mc *MemoryCollector) RecordDeposit(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.deposits[outcome]++
}

// RecordHTTPRequest counts a request under "METHOD route status".
func (mc *MemoryCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests[RequestKey(method, route, status)]++
}

// RequestKey builds the key used in Snapshot.Requests.
func RequestKey(method, route string, status int) string {
	return fmt.Sprintf("%s %s %d", method, route, status)
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	LayerMetrics     map[string]LayerMetrics
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
	Transfers        map[string]int64
	Deposits         map[string]int64
	Requests         map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		LayerMetrics:     make(map[string]LayerMetrics, len(mc.layerMetrics)),
		ChainHits:        mc.chainHits,
		ChainMisses:      mc.chainMisses,
		ChainHitsByLayer: maps.Clone(mc.chainHitsByLayer),
		Transfers:        maps.Clone(mc.transfers),
		Deposits:         maps.Clone(mc.deposits),
		Requests:         maps.Clone(mc.requests),
	}

	for name, lm := range mc.layerMetrics {
		snapshot.LayerMetrics[name] = lm.clone()
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.reset()
}

func (mc *MemoryCollector) reset() {
	mc.layerMetrics = make(map[string]*LayerMetrics)
	mc.chainHits = 0
	mc.chainMisses = 0
	mc.chainHitsByLayer = make(map[int]int64)
	mc.transfers = make(map[string]int64)
	mc.deposits = make(map[string]int64)
	mc.requests = make(map[string]int64)
}

// GetLayerMetrics returns a copy of the metrics for a specific layer, or nil.
func (mc *MemoryCollector) GetLayerMetrics(layer string) *LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if lm, exists := mc.layerMetrics[layer]; exists {
		c := lm.clone()
		return &c
	}
	return nil
}
