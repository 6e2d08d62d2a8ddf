package segment

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Queue is the bounded hand-off between segmenter and pipeline worker. When
// the worker falls behind, the oldest queued segment is dropped so the
// audience sees current speech rather than a growing backlog.
type Queue struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan Segment
	dropped atomic.Uint64
	log     *slog.Logger
}

// NewQueue creates a queue holding up to capacity segments.
func NewQueue(capacity int, log *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		ch:  make(chan Segment, capacity),
		log: log,
	}
}

// Push enqueues seg, evicting the oldest entry if the queue is full. It never
// blocks. Segments pushed after Close are silently discarded; ingest
// connections can outlive the server's shutdown grace period.
func (q *Queue) Push(seg Segment) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	for {
		select {
		case q.ch <- seg:
			return
		default:
		}
		select {
		case old := <-q.ch:
			q.dropped.Add(1)
			q.log.Warn("segment queue full, dropping oldest",
				"dropped_id", old.ID, "incoming_id", seg.ID)
		default:
		}
	}
}

// C returns the receive side for the pipeline worker.
func (q *Queue) C() <-chan Segment { return q.ch }

// Dropped returns how many segments have been evicted or discarded.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close closes the queue; the worker drains what is already buffered.
// Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
