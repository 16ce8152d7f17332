package async

import (
	"context"
	"sync"

	"github.com/teranos/scribe/errors"
)

// ErrQueueClosed is returned by Next and Enqueue once the queue is closed.
var ErrQueueClosed = errors.Wrap(errors.ErrServiceUnavailable, "dispatch queue closed")

// Queue is an unbounded FIFO hand-off between submitters and the worker.
// Enqueue never blocks, drops or reorders. Designed for a single consumer.
type Queue struct {
	mu     sync.Mutex
	items  []TaskSpec
	closed bool

	signal chan struct{} // capacity 1, poked on every enqueue
	done   chan struct{} // closed by Close
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends spec to the tail of the queue.
func (q *Queue) Enqueue(spec TaskSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, spec)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a spec is available and returns the head of the queue.
// It returns ErrQueueClosed after Close, or ctx.Err() when ctx is done.
func (q *Queue) Next(ctx context.Context) (TaskSpec, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return TaskSpec{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			spec := q.items[0]
			q.items[0] = TaskSpec{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return spec, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return TaskSpec{}, ctx.Err()
		case <-q.done:
		case <-q.signal:
		}
	}
}

// Len returns the number of specs waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue. Waiting consumers return ErrQueueClosed; specs still
// queued are abandoned. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
