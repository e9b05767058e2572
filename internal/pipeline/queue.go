package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
)

// DefaultQueueSize is the FrameQueue capacity, about two seconds of 30 ms
// frames.
const DefaultQueueSize = 64

// dropLogInterval rate-limits overflow warnings.
const dropLogInterval = time.Second

// FrameQueue is a bounded frame buffer between the capture callback and the
// frame loop. When full, Push discards the oldest frame so the most recent
// audio is always kept. Every drop is counted.
//
// Push and Close belong to the producer goroutine; Frames is read by the
// consumer.
type FrameQueue struct {
	ch      chan audio.Frame
	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time

	dropped   atomic.Int64
	lastLog   time.Time
	sinceLog  int64
	closeOnce sync.Once
}

// QueueOption configures a [FrameQueue].
type QueueOption func(*FrameQueue)

// WithQueueMetrics counts drops on m.FramesDropped.
func WithQueueMetrics(m *observe.Metrics) QueueOption {
	return func(q *FrameQueue) { q.metrics = m }
}

// WithQueueLogger sets the logger for overflow warnings.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *FrameQueue) { q.logger = l }
}

// NewFrameQueue creates a queue holding up to size frames. A non-positive
// size uses [DefaultQueueSize].
func NewFrameQueue(size int, opts ...QueueOption) *FrameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &FrameQueue{
		ch:     make(chan audio.Frame, size),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues f without blocking, evicting the oldest frame if the queue
// is full.
func (q *FrameQueue) Push(f audio.Frame) {
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
			q.noteDrop()
		default:
		}
	}
}

func (q *FrameQueue) noteDrop() {
	total := q.dropped.Add(1)
	q.sinceLog++
	if q.metrics != nil {
		q.metrics.FramesDropped.Add(context.Background(), 1)
	}
	now := q.now()
	if now.Sub(q.lastLog) < dropLogInterval {
		return
	}
	q.logger.Warn("frame queue overflow, dropping oldest frames",
		"dropped", q.sinceLog,
		"dropped_total", total,
		"capacity", cap(q.ch),
	)
	q.lastLog = now
	q.sinceLog = 0
}

// Frames returns the receive side. It is closed by [FrameQueue.Close].
func (q *FrameQueue) Frames() <-chan audio.Frame { return q.ch }

// Close marks the end of capture. Frames already queued stay readable.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }

// Dropped returns the number of frames discarded so far.
func (q *FrameQueue) Dropped() int64 { return q.dropped.Load() }
