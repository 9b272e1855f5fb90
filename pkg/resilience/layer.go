package resilience

import (
	"context"
	"errors"
	"time"

	"quickpe/pkg/cache"
	"quickpe/pkg/logging"
	"quickpe/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientLayer wraps a CacheLayer with resilience features including
// circuit breaker and timeout protection. Cache misses count as successes.
type ResilientLayer struct {
	layer   cache.CacheLayer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewResilientLayer creates a new resilient layer wrapper around the given cache layer.
func NewResilientLayer(layer cache.CacheLayer, config ResilientConfig) *ResilientLayer {
	return NewResilientLayerWithMetrics(layer, config, metrics.NoOpCollector{})
}

// NewResilientLayerWithMetrics creates a new resilient layer with custom metrics collector.
func NewResilientLayerWithMetrics(layer cache.CacheLayer, config ResilientConfig, collector metrics.MetricsCollector) *ResilientLayer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	name := layer.Name()
	logger := logging.Global().Named("resilience").With(zap.String("layer", name))

	rl := &ResilientLayer{
		layer:   layer,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	readyToTrip := config.CircuitBreakerConfig.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = ConsecutiveFailures(5)
	}

	rl.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return readyToTrip(Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || cache.IsNotFound(err)
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rl.metrics.RecordCircuitState(name, circuitState(to))
		},
	})

	logger.Debug("resilient layer initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	return rl
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the name of the underlying cache layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// State reports the breaker state.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return circuitState(rl.cb.State())
}

// execute runs op through the breaker under the configured timeout and
// maps breaker and deadline failures onto the cache error taxonomy.
func (rl *ResilientLayer) execute(ctx context.Context, operation, key string, op func(ctx context.Context) ([]byte, error)) ([]byte, time.Duration, error) {
	start := time.Now()

	if rl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.timeout)
		defer cancel()
	}

	result, err := rl.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	elapsed := time.Since(start)

	if err == nil {
		value, _ := result.([]byte)
		return value, elapsed, nil
	}

	switch {
	case cache.IsNotFound(err):
		return nil, elapsed, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rl.logger.Debug("circuit breaker rejected request",
			zap.String("operation", operation),
			zap.String("key", key),
		)
		return nil, elapsed, cache.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rl.logger.Warn("operation timeout",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Duration("timeout", rl.timeout),
			zap.Duration("elapsed", elapsed),
		)
		return nil, elapsed, cache.ErrTimeout
	}

	rl.logger.Error("operation failed",
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Duration("duration", elapsed),
		zap.Error(err),
	)
	return nil, elapsed, cache.WrapError(err, rl.layer.Name(), operation)
}

// Get retrieves a value from the cache with timeout and circuit breaker protection.
func (rl *ResilientLayer) Get(ctx context.Context, key string) ([]byte, error) {
	value, elapsed, err := rl.execute(ctx, "get", key, func(ctx context.Context) ([]byte, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordGet(rl.layer.Name(), err == nil, elapsed)
	return value, err
}

// Set stores a value in the cache with timeout and circuit breaker protection.
func (rl *ResilientLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, elapsed, err := rl.execute(ctx, "set", key, func(ctx context.Context) ([]byte, error) {
		return nil, rl.layer.Set(ctx, key, value, ttl)
	})
	rl.metrics.RecordSet(rl.layer.Name(), err == nil, elapsed)
	return err
}

// Delete removes a value from the cache with timeout and circuit breaker protection.
func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	_, elapsed, err := rl.execute(ctx, "delete", key, func(ctx context.Context) ([]byte, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, elapsed)
	return err
}

// Close closes the underlying cache layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}
