package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// RedisQueue implements WriteBackQueue using a Redis list. Batches are
// serialized as JSON, pushed with RPUSH and popped with LPOP, so several
// processes can share one queue.
type RedisQueue struct {
	client redis.Cmdable
	closer func() error
	key    string
	mu     sync.RWMutex
	closed bool
	logger *zap.SugaredLogger
}

// RedisQueueConfig holds configuration for the Redis queue.
type RedisQueueConfig struct {
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Prefix       string // Namespace of the queue key, e.g. "relmap:wbq"
}

// NewRedisQueue connects to Redis and creates a queue. More than one
// endpoint selects a cluster client.
func NewRedisQueue(config RedisQueueConfig, logger *zap.SugaredLogger) (*RedisQueue, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one Redis endpoint is required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        config.Endpoints,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisQueue(client, client.Close, config.Prefix, logger), nil
}

func newRedisQueue(client redis.Cmdable, closer func() error, prefix string, logger *zap.SugaredLogger) *RedisQueue {
	if prefix == "" {
		prefix = "relmap:wbq"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisQueue{
		client: client,
		closer: closer,
		key:    prefix + ":global",
		logger: logger.Named("writeback.redis"),
	}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Enqueue adds a batch to the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, batch *core.WriteBatch) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := prepare(batch); err != nil {
		return err
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal write batch: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue write batch: %w", err)
	}
	q.logger.Debugw("enqueued batch", "id", batch.ID, "table", batch.Table, "statements", len(batch.Statements))
	return nil
}

// Dequeue pops up to batchSize batches from the head of the list.
// Entries that fail to decode are logged and skipped.
func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteBatch, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	values, err := q.client.LPopCount(ctx, q.key, batchSize).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue write batches: %w", err)
	}

	batches := make([]*core.WriteBatch, 0, len(values))
	for _, v := range values {
		var batch core.WriteBatch
		if err := json.Unmarshal([]byte(v), &batch); err != nil {
			q.logger.Errorw("skipping undecodable batch", "error", err)
			continue
		}
		batches = append(batches, &batch)
	}
	return batches, nil
}

// Size returns the length of the list, or 0 if it cannot be read.
func (q *RedisQueue) Size() int {
	if q.isClosed() {
		return 0
	}
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warnw("failed to read queue length", "error", err)
		return 0
	}
	return int(n)
}

// Close closes the queue and the Redis client.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	if q.closer != nil {
		return q.closer()
	}
	return nil
}
