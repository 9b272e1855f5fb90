package writer

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ErrQueueFull    = errors.New("writer: queue full, write dropped")
	ErrWriterClosed = errors.New("writer: writer is closed")
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)

// AsyncWriterStats is a snapshot of one writer's warm-up traffic.
type AsyncWriterStats struct {
	Layer string

	// QueueDepth counts writes waiting in the queue; Pending also counts
	// the ones a worker is applying right now
	QueueDepth int
	Pending    int64

	Accepted int64
	Dropped  int64
	Failed   int64
}

// Applied is the number of accepted writes that reached the layer.
func (s AsyncWriterStats) Applied() int64 {
	return s.Accepted - s.Failed - s.Pending
}

// MarshalLogObject lets the stats be logged with zap.Object.
func (s AsyncWriterStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("layer", s.Layer)
	enc.AddInt("queue_depth", s.QueueDepth)
	enc.AddInt64("pending", s.Pending)
	enc.AddInt64("accepted", s.Accepted)
	enc.AddInt64("applied", s.Applied())
	enc.AddInt64("dropped", s.Dropped)
	enc.AddInt64("failed", s.Failed)
	return nil
}

// Stats returns the writer's counters.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		Layer:      w.layerName,
		QueueDepth: len(w.queue),
		Pending:    atomic.LoadInt64(&w.pending),
		Accepted:   atomic.LoadInt64(&w.totalWrites),
		Dropped:    atomic.LoadInt64(&w.droppedWrites),
		Failed:     atomic.LoadInt64(&w.failedWrites),
	}
}

// Field is shorthand for zap.Object("writer", s).
func (s AsyncWriterStats) Field() zap.Field {
	return zap.Object("writer", s)
}
