package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue is closed")

// InMemoryQueue is an unbounded FIFO. Push never blocks, so producers on a
// hot path are never slowed down by a slow consumer.
type InMemoryQueue[T any] struct {
	items  []T
	mu     sync.Mutex
	ready  chan struct{}
	closed bool
}

func NewInMemoryQueue[T any]() *InMemoryQueue[T] {
	return &InMemoryQueue[T]{
		items: make([]T, 0),
		ready: make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, item)
	q.signal()

	return nil
}

// Pop blocks until an item is available. Items pushed before Close are still
// delivered; ErrQueueClosed is returned only once the queue is drained.
func (q *InMemoryQueue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.signal()
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *InMemoryQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.signal()

	return nil
}

// signal must be called with mu held.
func (q *InMemoryQueue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
