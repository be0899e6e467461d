// Package queue provides an unbounded lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// The bridge session uses one queue per connection as its outbound frame queue:
// any number of request handlers push frames, the single writer goroutine drains
// them through Recv().
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with atomic compare-and-swap, never blocking
//   - Unbounded Size: producers are never throttled. Memory grows with the backlog,
//     there is no backpressure
//   - Single Consumer: values are delivered on one channel (Recv) in push order
//     per producer
//   - No Strict FIFO Across Producers: under concurrent Push() the order is decided by
//     which producer completes its append first
package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// Queue is an unbounded multi-producer single-consumer queue backed by a
// linked list with a sentinel head
type Queue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// wakes the consumer goroutine when it ran dry
	mu   sync.Mutex
	cond *sync.Cond
}

// New creates a queue and starts its delivery goroutine. The goroutine exits
// after Close once every pushed value was received.
func New[T any]() *Queue[T] {
	sentinel := &node[T]{}

	q := &Queue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends value. It returns false if value is nil or the queue is closed.
//
// Thread-safety: safe for concurrent use by any number of producers.
func (q *Queue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// a failed CAS here means another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin a little at low contention, yield once contention persists
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Recv returns the channel the single consumer reads from. It is closed after
// Close once the backlog was delivered.
func (q *Queue[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Values already pushed are still delivered.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// Discard closes the queue and drops every undelivered value. It blocks until
// the delivery goroutine exited and returns the number of dropped values.
// It must not be called while another goroutine still receives from Recv.
func (q *Queue[T]) Discard() int {
	q.Close()
	dropped := 0
	for range q.out {
		dropped++
	}
	q.consumer.Wait()
	return dropped
}

// IsClosed returns true if the queue is closed
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the queued values.
// This is O(n) and should only be used for debugging.
func (q *Queue[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			return count
		}
		count++
		current = next
	}
}

// wake signals the consumer. The lock pairs with the check-then-wait in
// consume, so a signal cannot fall between the check and the wait.
func (q *Queue[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the linked list to the output channel
func (q *Queue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			value := next.value
			q.head.Store(next)
			q.out <- value

			// the new head is a sentinel now, drop its reference for the gc
			next.value = nil
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil {
				if q.closed.Load() {
					q.mu.Unlock()
					return
				}
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}
