package core

import (
	"context"
)

// SequenceAllocator hands out per-table monotonically increasing counters.
// Implementations must never return the same value twice for a table, even
// across process restarts, and must serialize concurrent allocations.
type SequenceAllocator interface {
	// Next returns the next counter value for the table.
	Next(ctx context.Context, table string) (int64, error)

	// Close releases any resources held by the allocator.
	Close() error
}
