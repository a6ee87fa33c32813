// Package framebus implements the bounded, single-producer
// single-consumer, drop-oldest handoff described in SPEC_FULL.md section
// 4.1. The Camera Worker puts a Bus[model.Frame] between decode and its
// pipeline loop; recognition dispatch uses a plain buffered channel and
// overlay output is pushed straight to the encoder.
//
// The drop-oldest policy (evict the head before pushing, rather than
// blocking the producer or rejecting the new item) mirrors the
// broadcast-with-drop pattern used for RTP fan-out elsewhere in this
// codebase's ancestry: recency beats completeness on every hot path.
package framebus

import (
	"sync"

	"command-center-vms-cctv/be/metrics"
)

// ErrHalted is raised on Push after the consumer side has closed the bus.
type haltedError struct{}

func (haltedError) Error() string { return "framebus: pipeline halted" }

// ErrHalted is returned by Push once the bus has been closed by the
// consumer side.
var ErrHalted error = haltedError{}

// Bus is a bounded ring of capacity N holding frames of type T.
type Bus[T any] struct {
	cameraID string
	stage    string

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	cap    int
	closed bool
	halted bool
}

// New creates a Bus with the given capacity, labeled for metrics by
// camera id and stage name (e.g. "decode", "overlay", "encode").
func New[T any](cameraID, stage string, capacity int) *Bus[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus[T]{cameraID: cameraID, stage: stage, cap: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push offers item to the bus. If the bus is full, the oldest unread
// item is evicted first (drop-oldest). Returns ErrHalted if the consumer
// has already closed the bus.
func (b *Bus[T]) Push(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return ErrHalted
	}
	metrics.FrameBusProduced.WithLabelValues(b.cameraID, b.stage).Inc()

	if len(b.items) >= b.cap {
		b.items = b.items[1:]
		metrics.FrameBusDropped.WithLabelValues(b.cameraID, b.stage).Inc()
	}
	b.items = append(b.items, item)
	metrics.FrameBusDepth.WithLabelValues(b.cameraID, b.stage).Set(float64(len(b.items)))
	b.cond.Signal()
	return nil
}

// Pop blocks until an item is available or the bus is closed by the
// producer, in which case it returns the zero value and ok=false.
func (b *Bus[T]) Pop() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 && b.closed {
		return item, false
	}
	item = b.items[0]
	b.items = b.items[1:]
	metrics.FrameBusDelivered.WithLabelValues(b.cameraID, b.stage).Inc()
	metrics.FrameBusDepth.WithLabelValues(b.cameraID, b.stage).Set(float64(len(b.items)))
	return item, true
}

// Close signals end-of-stream to the consumer (producer side). Any Pop
// currently blocked returns ok=false once drained.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Halt signals the consumer side has gone away; subsequent Push calls
// return ErrHalted instead of buffering further frames.
func (b *Bus[T]) Halt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = true
	b.cond.Broadcast()
}

// Depth returns the current number of buffered items.
func (b *Bus[T]) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
