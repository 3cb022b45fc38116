// Package buffer provides an unbounded FIFO ring buffer shared by the
// outbound message queue and the transcript writer.
package buffer

import "sync"

// growThreshold is the fill percentage at which the ring doubles.
const growThreshold = 70

// Growable is a thread-safe FIFO that doubles its capacity once it is 70%
// full. Items come out in exactly the order they went in.
type Growable[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	grows   int
}

// New creates a buffer with the given initial capacity (minimum 1).
func New[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &Growable[T]{
		ring: make([]T, initialCapacity),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item. Returns false if the buffer is closed.
func (b *Growable[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (len(b.ring) * growThreshold) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.pushed++

	b.cond.Signal()
	return true
}

// Pop removes the oldest item without blocking.
func (b *Growable[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

// Receive blocks until an item is available or the buffer is closed and
// empty, in which case it returns false.
func (b *Growable[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	return b.popLocked()
}

// Drain removes up to max items (all items when max <= 0) and returns them
// in FIFO order. The removal is atomic: items pushed after Drain returns are
// not part of the result.
func (b *Growable[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, _ := b.popLocked()
		out = append(out, item)
	}
	return out
}

// Clear discards every pending item and returns how many were dropped.
func (b *Growable[T]) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	var zero T
	for i := range b.ring {
		b.ring[i] = zero
	}
	b.head, b.tail, b.count = 0, 0, 0
	b.dropped += int64(n)
	return n
}

// Close stops further pushes and wakes blocked receivers. Items already
// queued can still be popped.
func (b *Growable[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *Growable[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *Growable[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stats returns buffer counters.
func (b *Growable[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:    b.count,
		Capacity: len(b.ring),
		Pushed:   b.pushed,
		Popped:   b.popped,
		Dropped:  b.dropped,
		Grows:    b.grows,
	}
}

// Stats contains buffer counters.
type Stats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Grows    int
}

// popLocked removes the head item. Must be called with lock held.
func (b *Growable[T]) popLocked() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.popped++
	return item, true
}

// grow doubles the ring. Must be called with lock held.
func (b *Growable[T]) grow() {
	next := make([]T, len(b.ring)*2)

	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.ring[b.head:b.tail])
		} else {
			n := copy(next, b.ring[b.head:])
			copy(next[n:], b.ring[:b.tail])
		}
	}

	b.ring = next
	b.head = 0
	b.tail = b.count
	b.grows++
}
