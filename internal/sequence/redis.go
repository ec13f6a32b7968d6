package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

// RedisAllocator allocates counters with INCR on one key per table, so any
// number of processes can share a table's sequence.
type RedisAllocator struct {
	client redis.Cmdable
	closer func() error
	prefix string
	seed   Seeder
	seeded seeded
	closed atomic.Bool
	logger *zap.SugaredLogger
}

// NewRedisAllocator creates a Redis-backed allocator and checks connectivity.
func NewRedisAllocator(config Config) (*RedisAllocator, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Endpoints[0],
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisAllocator(client, client.Close, config), nil
}

func newRedisAllocator(client redis.Cmdable, closer func() error, config Config) *RedisAllocator {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisAllocator{
		client: client,
		closer: closer,
		prefix: prefix,
		seed:   config.Seed,
		logger: logger.Named("sequence.redis"),
	}
}

func (r *RedisAllocator) key(table string) string {
	return r.prefix + table
}

// Next returns the next counter value for the table.
func (r *RedisAllocator) Next(ctx context.Context, table string) (int64, error) {
	if r.closed.Load() {
		return 0, ErrAllocatorClosed
	}

	key := r.key(table)
	err := r.seeded.once(ctx, table, func(ctx context.Context) error {
		v, err := seedValue(ctx, r.seed, table)
		if err != nil {
			return err
		}
		// SETNX keeps a counter other processes already advanced.
		set, err := r.client.SetNX(ctx, key, v, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to seed counter key %s: %w", key, err)
		}
		r.logger.Debugw("seeded counter", "key", key, "value", v, "applied", set)
		return nil
	})
	if err != nil {
		return 0, err
	}

	v, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Errorw("failed to increment counter", "key", key, "error", err)
		return 0, fmt.Errorf("failed to increment counter key %s: %w", key, err)
	}
	return v, nil
}

// Close closes the connection to Redis.
func (r *RedisAllocator) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// RedisAllocatorFactory implements AllocatorFactory for Redis.
type RedisAllocatorFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisAllocatorFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisAllocatorFactory) Validate(config Config) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	return nil
}

// Create creates a new Redis allocator.
func (f *RedisAllocatorFactory) Create(config Config) (core.SequenceAllocator, error) {
	alloc, err := NewRedisAllocator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis allocator: %w", err)
	}
	return alloc, nil
}

// RedisConfigValidator implements registry.ConfigValidator for Redis.
type RedisConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *RedisConfigValidator) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration in the internal config.
func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	seqConfig := config.Sequence
	if seqConfig.Type != "redis" {
		return fmt.Errorf("invalid type for Redis validator: %s", seqConfig.Type)
	}

	redisConfig := seqConfig.RedisConfig
	if len(redisConfig.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if redisConfig.DB < 0 || redisConfig.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", redisConfig.DB)
	}
	if redisConfig.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", redisConfig.PoolSize)
	}
	if redisConfig.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", redisConfig.MinIdleConns)
	}
	if seqConfig.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", seqConfig.DialTimeout)
	}
	if seqConfig.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", seqConfig.ReadTimeout)
	}
	if seqConfig.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", seqConfig.WriteTimeout)
	}
	if seqConfig.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", seqConfig.MaxRetries)
	}
	return nil
}

func init() {
	RegisterFactory(&RedisAllocatorFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
