package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"quickpe/pkg/cache"
	"quickpe/pkg/logging"
	"quickpe/pkg/metrics"

	"go.uber.org/zap"
)

// AsyncWriter performs cache warm-up writes on a worker pool fed by a
// bounded queue, so a chain Get never waits for a slower layer's Set.
// Writes are best effort: under backpressure they are dropped and counted.
type AsyncWriter struct {
	layer      cache.CacheLayer
	queue      chan writeOp
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	layerName  string
	closeOnce  sync.Once

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	pending       int64

	metricsStop chan struct{}
}

type writeOp struct {
	key   string
	value []byte
	ttl   time.Duration
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if queue is full.
	// Negative means drop immediately (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each Set on the target layer (default: 1s)
	WriteTimeout time.Duration

	// MetricsInterval is how often queue depth is reported (default: 5s)
	MetricsInterval time.Duration
}

// NewAsyncWriter creates a new async writer with bounded queue and worker pool.
// The writer starts processing immediately and must be closed with Close().
func NewAsyncWriter(layer cache.CacheLayer, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(layer, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics creates a new async writer with custom metrics collector.
func NewAsyncWriterWithMetrics(layer cache.CacheLayer, config AsyncWriterConfig, collector metrics.MetricsCollector) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		layer:       layer,
		queue:       make(chan writeOp, config.QueueSize),
		workers:     config.Workers,
		ctx:         ctx,
		cancelFunc:  cancel,
		config:      config,
		metrics:     collector,
		logger:      logging.Global().Named("writer").With(zap.String("layer", layer.Name())),
		layerName:   layer.Name(),
		metricsStop: make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.reportMetrics()

	return w
}

// Write enqueues a write operation.
// If the queue is full, it waits up to MaxWaitTime before dropping the write.
// Returns ErrQueueFull if the write was dropped due to backpressure.
func (w *AsyncWriter) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	op := writeOp{key: key, value: value, ttl: ttl}

	// fast path
	select {
	case w.queue <- op:
		w.enqueued()
		return nil
	default:
	}

	if w.config.MaxWaitTime < 0 {
		w.dropped()
		return ErrQueueFull
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		w.enqueued()
		return nil
	case <-timer.C:
		w.dropped()
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) enqueued() {
	atomic.AddInt64(&w.totalWrites, 1)
	atomic.AddInt64(&w.pending, 1)
}

func (w *AsyncWriter) dropped() {
	atomic.AddInt64(&w.droppedWrites, 1)
	w.metrics.RecordWriteDropped(w.layerName)
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.process(op)
		case <-w.ctx.Done():
			// drain what is already queued before exiting
			for {
				select {
				case op := <-w.queue:
					w.process(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) process(op writeOp) {
	defer atomic.AddInt64(&w.pending, -1)

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.layer.Set(ctx, op.key, op.value, op.ttl)
	w.metrics.RecordAsyncWrite(w.layerName, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Debug("async write failed", zap.String("key", op.key), zap.Error(err))
	}
}

// Flush waits until every accepted write has been applied or timeout passes.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for atomic.LoadInt64(&w.pending) > 0 {
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Close stops accepting new writes and waits for workers to drain the queue.
// It is safe to call more than once.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.metricsStop)
		w.cancelFunc()
		w.wg.Wait()
	})
	return nil
}

func (w *AsyncWriter) reportMetrics() {
	ticker := time.NewTicker(w.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.metrics.RecordQueueDepth(w.layerName, len(w.queue))
		case <-w.metricsStop:
			return
		}
	}
}
