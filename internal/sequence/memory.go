package sequence

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

// ErrAllocatorClosed is returned by Next after Close.
var ErrAllocatorClosed = errors.New("sequence allocator is closed")

// MemoryAllocator keeps counters in process memory. It is correct for a
// single process writing to the database; tables are seeded from the stored
// maximum on first use.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
	seed     Seeder
	closed   bool
	logger   *zap.SugaredLogger
}

// NewMemoryAllocator creates an in-memory allocator. seed may be nil.
func NewMemoryAllocator(seed Seeder, logger *zap.SugaredLogger) *MemoryAllocator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MemoryAllocator{
		counters: make(map[string]int64),
		seed:     seed,
		logger:   logger.Named("sequence"),
	}
}

// Next returns the next counter value for the table.
func (m *MemoryAllocator) Next(ctx context.Context, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrAllocatorClosed
	}

	current, ok := m.counters[table]
	if !ok {
		v, err := seedValue(ctx, m.seed, table)
		if err != nil {
			return 0, err
		}
		current = v
		m.logger.Debugw("seeded counter", "table", table, "value", v)
	}
	current++
	m.counters[table] = current
	return current, nil
}

// Close marks the allocator closed.
func (m *MemoryAllocator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MemoryAllocatorFactory implements AllocatorFactory for in-memory counters.
type MemoryAllocatorFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryAllocatorFactory) Type() string {
	return "memory"
}

// Validate validates the memory allocator configuration.
func (f *MemoryAllocatorFactory) Validate(config Config) error {
	return nil
}

// Create creates a new in-memory allocator.
func (f *MemoryAllocatorFactory) Create(config Config) (core.SequenceAllocator, error) {
	return NewMemoryAllocator(config.Seed, config.Logger), nil
}

// MemoryConfigValidator implements registry.ConfigValidator for the memory
// allocator, which has no settings of its own.
type MemoryConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *MemoryConfigValidator) Type() string {
	return "memory"
}

// Validate validates the memory-specific configuration.
func (v *MemoryConfigValidator) Validate(config *registry.InternalConfig) error {
	return nil
}

func init() {
	RegisterFactory(&MemoryAllocatorFactory{})
	registry.RegisterValidator(&MemoryConfigValidator{})
}
