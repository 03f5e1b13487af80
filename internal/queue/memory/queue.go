// Package memory provides the bounded in-memory work item queue connecting
// the frontier to the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docuflow/harvester/internal/harvest"
)

// ErrClosed is returned by Dequeue once the frontier has finished feeding.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO queue with context-aware operations. FIFO order
// preserves the frontier's discovery order at dequeue time.
type Queue struct {
	ch      chan harvest.WorkItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch: make(chan harvest.WorkItem, capacity),
	}
}

// Enqueue pushes an item or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, item harvest.WorkItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. It returns
// ErrClosed after the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (harvest.WorkItem, error) {
	select {
	case <-ctx.Done():
		return harvest.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return harvest.WorkItem{}, ErrClosed
		}
		return item, nil
	}
}

// Close closes the underlying channel; pending items remain dequeueable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
