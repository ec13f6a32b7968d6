package writeback

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// MemoryQueue implements WriteBackQueue using an in-memory channel-based queue.
// This is useful for testing or when persistence is not required.
type MemoryQueue struct {
	queue  chan *core.WriteBatch
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory write-back queue.
// bufferSize is the maximum number of batches that can be buffered.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{
		queue: make(chan *core.WriteBatch, bufferSize),
	}
}

// Enqueue adds a batch to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, batch *core.WriteBatch) error {
	if err := prepare(batch); err != nil {
		return err
	}

	// The read lock is held across the send so Close cannot close the
	// channel underneath it.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue retrieves up to batchSize batches in the order they were enqueued.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteBatch, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	batches := make([]*core.WriteBatch, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		select {
		case batch, ok := <-q.queue:
			if !ok {
				return batches, nil
			}
			batches = append(batches, batch)
		case <-ctx.Done():
			return batches, ctx.Err()
		default:
			return batches, nil
		}
	}
	return batches, nil
}

// Size returns the current number of batches in the queue.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close closes the queue and prevents further enqueuing. Batches already
// queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
