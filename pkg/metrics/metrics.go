// Package metrics defines the collector interfaces used by the cache chain,
// the wallet service and the HTTP layer.
package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting cache metrics.
// Implementations can export metrics to various backends (Prometheus, StatsD, etc.).
type MetricsCollector interface {
	// Cache operations
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(layer string, state CircuitState)

	// Async writer
	RecordQueueDepth(layer string, depth int)
	RecordWriteDropped(layer string)
	RecordAsyncWrite(layer string, success bool, duration time.Duration)

	// Chain-level
	RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration)
}

// Outcome labels for wallet operations.
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// WalletCollector records money movement outcomes.
type WalletCollector interface {
	RecordTransfer(outcome string, duration time.Duration)
	RecordDeposit(outcome string, duration time.Duration)
}

// HTTPCollector records served requests. route is the mux path template,
// never the raw URL, to keep label cardinality bounded.
type HTTPCollector interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// Collector is implemented by the memory and Prometheus backends.
type Collector interface {
	MetricsCollector
	WalletCollector
	HTTPCollector
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

var _ Collector = NoOpCollector{}

func (NoOpCollector) RecordGet(layer string, hit bool, duration time.Duration) {}
func (NoOpCollector) RecordSet(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordDelete(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordCircuitState(layer string, state CircuitState) {}
func (NoOpCollector) RecordQueueDepth(layer string, depth int) {}
func (NoOpCollector) RecordWriteDropped(layer string) {}
func (NoOpCollector) RecordAsyncWrite(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {}
func (NoOpCollector) RecordTransfer(outcome string, duration time.Duration) {}
func (NoOpCollector) RecordDeposit(outcome string, duration time.Duration) {}
func (NoOpCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {}
