package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [Queue.Push] once the queue has been closed.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is the hand-off between one producer goroutine and the render
// goroutine. It is a lossless FIFO: values are never dropped or reordered.
// Push blocks only while capacity values are pending, which throttles a
// producer that outruns the consumer instead of losing data. Drain never
// blocks, so the consumer reads on its own schedule.
//
// All methods are safe for concurrent use.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns an open queue holding up to capacity pending values.
// A capacity below 1 is treated as 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues v, blocking while the queue is full. It returns
// [ErrQueueClosed] if the queue is closed (before or while waiting) and
// ctx.Err() if ctx ends first.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain removes and returns up to limit pending values in arrival order
// without blocking. A limit below 1 drains everything currently pending.
func (q *Queue[T]) Drain(limit int) []T {
	n := len(q.ch)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]T, 0, n)
	for len(out) < n {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of pending values.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Close stops the queue from accepting values and releases producers
// blocked in Push. Pending values stay drainable. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
