package core

import (
	"context"
	"time"
)

// WriteBatch is an ordered group of statements produced by one insert call.
// The statements must be executed in order; the batch is the unit the
// write-back drainer retries.
type WriteBatch struct {
	// ID uniquely identifies the batch.
	ID string `json:"id"`

	// Table is the table of the root record of the insert.
	Table string `json:"table"`

	// Statements is the SQL text in execution order.
	Statements []string `json:"statements"`

	// Timestamp is when the batch was enqueued.
	Timestamp time.Time `json:"timestamp"`

	// Applied is the number of leading statements already executed. A
	// retried batch resumes after them.
	Applied int `json:"applied"`

	// RetryCount tracks how many times this batch has been retried.
	RetryCount int `json:"retry_count"`
}

// WriteBackQueue buffers insert batches that are executed asynchronously.
type WriteBackQueue interface {
	// Enqueue adds a batch to the queue.
	Enqueue(ctx context.Context, batch *WriteBatch) error

	// Dequeue retrieves up to batchSize batches in FIFO order.
	// Returns an empty slice if nothing is available.
	Dequeue(ctx context.Context, batchSize int) ([]*WriteBatch, error)

	// Size returns the current (possibly approximate) number of queued batches.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
