// Package hub fans subtitle events out to overlay subscribers. Broadcast
// never blocks on a slow consumer: each subscriber gets a bounded queue
// drained by its own writer goroutine, and a subscriber whose queue
// overflows or whose sink fails is dropped. Live captions are useless late,
// so one stuck browser tab must never stall the rest of the audience.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lobahq/loba/pkg/subtitle"
)

const defaultQueueSize = 32

// Sink receives events for one subscriber. Deliver may block (it typically
// performs a network write); the hub isolates that blocking per subscriber.
type Sink interface {
	// Deliver writes one event. A non-nil error drops the subscriber.
	Deliver(ctx context.Context, ev subtitle.Event) error

	// Close releases the sink after the subscriber is dropped.
	Close() error
}

type subscriber struct {
	id     uint64
	sink   Sink
	queue  chan subtitle.Event
	cancel context.CancelFunc
}

// Hub is the broadcast fan-out point. All pipeline emissions pass through
// Broadcast in order; per-subscriber delivery preserves that order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	queueSize int
	log       *slog.Logger

	delivered   atomic.Uint64
	dropped     atomic.Uint64 // subscribers dropped for overflow or sink error
	subscribers atomic.Int64

	// onCount is invoked with the subscriber count after every change.
	onCount func(n int64)

	wg sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue depth.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithCountCallback registers a callback observing the subscriber count.
func WithCountCallback(fn func(n int64)) Option {
	return func(h *Hub) { h.onCount = fn }
}

// New creates a Hub.
func New(log *slog.Logger, opts ...Option) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		subs:      make(map[uint64]*subscriber),
		queueSize: defaultQueueSize,
		log:       log,
		onCount:   func(int64) {},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers sink and starts its writer. The returned id can be
// passed to Unsubscribe; sinks are also unsubscribed automatically on
// delivery failure or queue overflow.
func (h *Hub) Subscribe(sink Sink) uint64 {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = sink.Close()
		return 0
	}
	h.nextID++
	sub := &subscriber{
		id:     h.nextID,
		sink:   sink,
		queue:  make(chan subtitle.Event, h.queueSize),
		cancel: cancel,
	}
	h.subs[sub.id] = sub
	n := int64(len(h.subs))
	h.mu.Unlock()

	h.subscribers.Store(n)
	h.onCount(n)
	h.log.Info("subscriber joined", "id", sub.id, "subscribers", n)

	h.wg.Add(1)
	go h.writeLoop(ctx, sub)
	return sub.id
}

// Unsubscribe removes the subscriber and closes its sink.
func (h *Hub) Unsubscribe(id uint64) {
	h.remove(id, "unsubscribed")
}

// Broadcast enqueues ev for every subscriber. Subscribers whose queue is
// full are dropped rather than delaying the others.
func (h *Hub) Broadcast(ev subtitle.Event) {
	h.mu.RLock()
	var overflowed []uint64
	for _, sub := range h.subs {
		select {
		case sub.queue <- ev:
		default:
			overflowed = append(overflowed, sub.id)
		}
	}
	h.mu.RUnlock()

	for _, id := range overflowed {
		h.dropped.Add(1)
		h.remove(id, "queue overflow")
	}
}

// Count returns the current subscriber count.
func (h *Hub) Count() int64 { return h.subscribers.Load() }

// Delivered returns the total number of successfully delivered events.
func (h *Hub) Delivered() uint64 { return h.delivered.Load() }

// Dropped returns how many subscribers were dropped involuntarily.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close drops all subscribers and waits for their writers to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]uint64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id, "hub closing")
	}
	h.wg.Wait()
}

func (h *Hub) remove(id uint64, reason string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	n := int64(len(h.subs))
	h.mu.Unlock()
	if !ok {
		return
	}

	sub.cancel()
	_ = sub.sink.Close()
	h.subscribers.Store(n)
	h.onCount(n)
	h.log.Info("subscriber removed", "id", id, "reason", reason, "subscribers", n)
}

func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.queue:
			if err := sub.sink.Deliver(ctx, ev); err != nil {
				if ctx.Err() == nil {
					h.dropped.Add(1)
					h.log.Warn("subscriber delivery failed", "id", sub.id, "error", err)
					h.remove(sub.id, "delivery error")
				}
				return
			}
			h.delivered.Add(1)
		}
	}
}
