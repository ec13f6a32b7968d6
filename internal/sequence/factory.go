// Package sequence allocates the per-table counters of auto-id tables.
package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

// AllocatorFactory is the Strategy interface for creating counter allocators.
// Each backend (memory, Redis, DynamoDB) registers one from its init().
type AllocatorFactory interface {
	// Create creates a new allocator based on the provided configuration.
	Create(config Config) (core.SequenceAllocator, error)

	// Type returns the type identifier for this factory (e.g., "redis").
	Type() string

	// Validate validates the configuration specific to this allocator type.
	Validate(config Config) error
}

// Seeder returns the highest counter already stored for a table, or 0.
// Allocators seed each table from it on first use so counters are never
// reused across restarts.
type Seeder func(ctx context.Context, table string) (int64, error)

// Config represents the configuration needed to create an allocator.
type Config struct {
	Type      string
	KeyPrefix string

	// Redis-specific fields
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // Optional, for LocalStack
	AccessKeyID     string // Optional, can use IAM role instead
	SecretAccessKey string // Optional, can use IAM role instead

	Seed   Seeder
	Logger *zap.SugaredLogger
}

// DefaultKeyPrefix prefixes the counter keys of shared backends.
const DefaultKeyPrefix = "relmap:seq:"

// ConfigFromInternal converts the registry configuration section.
func ConfigFromInternal(c registry.InternalSequenceConfig) Config {
	return Config{
		Type:            c.Type,
		KeyPrefix:       c.KeyPrefix,
		Endpoints:       c.RedisConfig.Endpoints,
		Password:        c.RedisConfig.Password,
		DB:              c.RedisConfig.DB,
		PoolSize:        c.RedisConfig.PoolSize,
		MinIdleConns:    c.RedisConfig.MinIdleConns,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		Region:          c.DynamoDBConfig.Region,
		TableName:       c.DynamoDBConfig.TableName,
		Endpoint:        c.DynamoDBConfig.Endpoint,
		AccessKeyID:     c.DynamoDBConfig.AccessKeyID,
		SecretAccessKey: c.DynamoDBConfig.SecretAccessKey,
	}
}

var (
	factoryRegistry = make(map[string]AllocatorFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers an allocator factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory AllocatorFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create creates an allocator using the factory registered for config.Type.
func Create(config Config) (core.SequenceAllocator, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("sequence type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported sequence type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered allocator types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if an allocator type is registered.
func IsTypeRegistered(allocatorType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[allocatorType]
	return exists
}

// seeded tracks which tables an allocator has seeded.
type seeded struct {
	mu     sync.Mutex
	tables map[string]bool
}

func (s *seeded) once(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if s.tables == nil {
		s.tables = make(map[string]bool)
	}
	s.tables[table] = true
	return nil
}

func seedValue(ctx context.Context, seed Seeder, table string) (int64, error) {
	if seed == nil {
		return 0, nil
	}
	v, err := seed(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("failed to seed counter for %s: %w", table, err)
	}
	return v, nil
}
