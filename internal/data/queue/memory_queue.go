package queue

import (
	"context"
	"errors"
	"sync"
)

type EnqueueResult string

const (
	EnqueueAccepted EnqueueResult = "accepted"
	EnqueueDropped  EnqueueResult = "dropped"
	EnqueueClosed   EnqueueResult = "closed"
)

var ErrClosed = errors.New("queue closed")

// MemoryQueue is a bounded in-memory FIFO. Producers may run on any
// goroutine; Drain never blocks, so a single-threaded consumer can poll it
// from a render loop.
type MemoryQueue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue[T any](capacity int) *MemoryQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds item without blocking, dropping it when the queue is full.
func (q *MemoryQueue[T]) Enqueue(item T) EnqueueResult {
	select {
	case <-q.done:
		return EnqueueClosed
	default:
	}
	select {
	case q.ch <- item:
		return EnqueueAccepted
	default:
		return EnqueueDropped
	}
}

// EnqueueWait adds item, waiting for space until ctx ends or the queue is
// closed.
func (q *MemoryQueue[T]) EnqueueWait(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain returns up to maxItems queued items without blocking. maxItems <= 0
// drains everything currently queued.
func (q *MemoryQueue[T]) Drain(maxItems int) []T {
	if maxItems <= 0 {
		maxItems = len(q.ch)
	}
	var out []T
	for len(out) < maxItems {
		select {
		case item := <-q.ch:
			out = append(out, item)
		default:
			return out
		}
	}
	return out
}

// Close rejects further items. Queued items remain drainable.
func (q *MemoryQueue[T]) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue[T]) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *MemoryQueue[T]) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *MemoryQueue[T]) Cap() int {
	return cap(q.ch)
}
