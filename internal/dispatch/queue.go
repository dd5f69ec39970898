// Package dispatch implements the sink fan-out engine of spec §4.8: a
// bounded per-sink ring buffer queue, one worker goroutine per sink, and
// a dispatcher that matches each event to eligible sinks and enqueues
// with a drop-on-overflow policy. This is the hardest part of the
// system (spec §4.8) and the component IV-1 through IV-4 are about.
package dispatch

import "sync"

// item is a queued event: a deep-owned copy, per spec §3's "Queued
// event" — the caller is responsible for handing Enqueue a copy whose
// strings are independent of the producer's buffer (IV-2).
type item struct {
	eventJSON []byte
}

// queue is a bounded ring buffer guarded by one mutex+condition, exactly
// as described in spec §4.8. Producer (Enqueue) never blocks: on a full
// queue it drops the newest event and returns immediately (IV-3).
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	buf      []item
	head     int
	count    int
	capacity int
	stopping bool
}

func newQueue(capacity int) *queue {
	q := &queue{buf: make([]item, capacity), capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// enqueue copies it into the tail slot, or drops it if the queue is at
// capacity. Returns true if the item was accepted.
func (q *queue) enqueue(it item) (accepted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		return false
	}
	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = it
	q.count++
	q.notEmpty.Signal()
	return true
}

// dequeue blocks until an item is available or the queue has been told
// to stop and is empty, in which case ok is false.
func (q *queue) dequeue() (it item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.stopping {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return item{}, false
	}
	it = q.buf[q.head]
	q.buf[q.head] = item{} // drop the reference so the GC can reclaim it
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.notEmpty.Signal()
	return it, true
}

// stop wakes any blocked dequeue call; subsequent dequeues drain
// remaining items before reporting ok=false.
func (q *queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopping = true
	q.notEmpty.Broadcast()
}
