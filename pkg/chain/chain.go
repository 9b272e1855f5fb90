package chain

import (
	"context"
	"errors"
	"strings"
	"time"

	"quickpe/pkg/cache"
	"quickpe/pkg/logging"
	"quickpe/pkg/metrics"
	"quickpe/pkg/resilience"
	"quickpe/pkg/writer"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Chain manages multiple cache layers with automatic fallback and warm-up.
// Layers are ordered from fastest (L1) to slowest (LN); the last layer is
// usually the authoritative source and may ignore writes.
type Chain struct {
	layers  []cache.CacheLayer
	writers []*writer.AsyncWriter
	sf      singleflight.Group
	ttl     TTLStrategy
	warmTTL time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// ChainConfig configures a chain. The zero value is usable.
type ChainConfig struct {
	// TTLStrategy maps a base TTL to per-layer TTLs (default: uniform)
	TTLStrategy TTLStrategy

	// WarmUpTTL is the base TTL for values copied into upper layers on a
	// lower-layer hit (default: 5m)
	WarmUpTTL time.Duration

	// ResilientConfigs overrides the resilience settings per layer index.
	// Missing entries use the default with a 100ms timeout for L1 and 1s below.
	ResilientConfigs []resilience.ResilientConfig

	// Writer configures the warm-up writers
	Writer writer.AsyncWriterConfig

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// New creates a new chain of cache layers with default configuration.
func New(layers ...cache.CacheLayer) (*Chain, error) {
	return NewWithConfig(ChainConfig{}, layers...)
}

// NewWithConfig creates a chain. Every layer is wrapped with resilience
// protection and gets its own async writer for warm-up.
func NewWithConfig(config ChainConfig, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}

	if config.TTLStrategy == nil {
		config.TTLStrategy = UniformTTLStrategy{}
	}
	if config.WarmUpTTL <= 0 {
		config.WarmUpTTL = 5 * time.Minute
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	c := &Chain{
		layers:  make([]cache.CacheLayer, len(layers)),
		writers: make([]*writer.AsyncWriter, len(layers)),
		ttl:     config.TTLStrategy,
		warmTTL: config.WarmUpTTL,
		metrics: config.Metrics,
		logger:  config.Logger.Named("chain"),
	}

	for i, layer := range layers {
		c.layers[i] = resilience.NewResilientLayerWithMetrics(layer, resilientConfig(config, i), config.Metrics)
		c.writers[i] = writer.NewAsyncWriterWithMetrics(c.layers[i], config.Writer, config.Metrics)
	}

	c.logger.Debug("chain created", zap.String("layers", c.String()))

	return c, nil
}

func resilientConfig(config ChainConfig, i int) resilience.ResilientConfig {
	if i < len(config.ResilientConfigs) {
		return config.ResilientConfigs[i]
	}
	if i == 0 {
		return resilience.DefaultResilientConfig().WithTimeout(100 * time.Millisecond)
	}
	return resilience.DefaultResilientConfig().WithTimeout(time.Second)
}

// Get retrieves a value from the chain.
// It traverses layers in order until a hit, then warms the upper layers
// asynchronously. Concurrent Gets for the same key share one traversal.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.getWithFallback(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// getWithFallback performs the actual chain traversal and warm-up.
// A miss or a failing layer moves on to the next one; the error of the
// last layer consulted decides what the caller sees.
func (c *Chain) getWithFallback(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	lastErr := cache.ErrKeyNotFound

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("layer get failed, falling through",
					zap.String("layer", layer.Name()),
					zap.String("key", key),
					zap.String("error_type", cache.ClassifyError(err)),
					zap.Error(err),
				)
			}
			lastErr = err
			continue
		}

		c.metrics.RecordChainGet(true, i, time.Since(start))

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i)
		}
		return value, nil
	}

	c.metrics.RecordChainGet(false, -1, time.Since(start))
	return nil, lastErr
}

// warmUpperLayers enqueues the value into every layer above the hit layer.
func (c *Chain) warmUpperLayers(ctx context.Context, key string, value []byte, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		ttl := c.ttl.GetTTL(i, len(c.layers), c.warmTTL)
		// dropped warm-ups only cost a future miss
		_ = c.writers[i].Write(context.WithoutCancel(ctx), key, value, ttl)
	}
}

// Set writes the value to all layers in the chain, each with the TTL the
// strategy assigns it. Every layer is attempted; failures are joined.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var errs []error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Set(ctx, key, value, c.ttl.GetTTL(i, len(c.layers), ttl)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Delete removes the keys from all layers in the chain.
// Every layer is attempted; failures are joined.
func (c *Chain) Delete(ctx context.Context, keys ...string) error {
	var errs []error

	for _, key := range keys {
		for _, layer := range c.layers {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := layer.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Flush waits for pending warm-up writes on every layer.
func (c *Chain) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for _, w := range c.writers {
		if err := w.Flush(time.Until(deadline)); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the warm-up writers and closes all layers.
func (c *Chain) Close() error {
	var errs []error

	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		c.logger.Info("warm-up writer closed", w.Stats().Field())
	}

	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WriterStats returns the warm-up writer counters, one per layer.
func (c *Chain) WriterStats() []writer.AsyncWriterStats {
	stats := make([]writer.AsyncWriterStats, len(c.writers))
	for i, w := range c.writers {
		stats[i] = w.Stats()
	}
	return stats
}

// Layers returns a copy of the layers slice for inspection.
func (c *Chain) Layers() []cache.CacheLayer {
	layers := make([]cache.CacheLayer, len(c.layers))
	copy(layers, c.layers)
	return layers
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return "chain(" + strings.Join(names, " -> ") + ")"
}
