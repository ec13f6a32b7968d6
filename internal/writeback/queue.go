// Package writeback buffers rendered insert batches and drains them into the
// database at a controlled rate.
package writeback

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

var (
	// ErrQueueClosed is returned when trying to use a closed queue.
	ErrQueueClosed = errors.New("write-back queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room left.
	ErrQueueFull = errors.New("write-back queue is full")

	// ErrInvalidBatch is returned when an invalid batch is provided.
	ErrInvalidBatch = errors.New("invalid write batch")
)

// NewBatch creates a batch for the statements of one insert.
func NewBatch(table string, statements []string) *core.WriteBatch {
	return &core.WriteBatch{
		ID:         uuid.NewString(),
		Table:      table,
		Statements: statements,
		Timestamp:  time.Now(),
	}
}

// prepare checks a batch before it is queued and fills in its ID and
// timestamp when missing.
func prepare(batch *core.WriteBatch) error {
	if batch == nil {
		return ErrInvalidBatch
	}
	if batch.Table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidBatch)
	}
	if len(batch.Statements) == 0 {
		return fmt.Errorf("%w: batch has no statements", ErrInvalidBatch)
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}
	return nil
}

// NewQueue creates the queue selected by config.QueueType.
func NewQueue(config registry.InternalWriteBackConfig, logger *zap.SugaredLogger) (core.WriteBackQueue, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch config.QueueType {
	case "", "memory":
		return NewMemoryQueue(config.QueueBufferSize), nil
	case "redis":
		return NewRedisQueue(RedisQueueConfig{
			Endpoints:    config.RedisConfig.Endpoints,
			Password:     config.RedisConfig.Password,
			DB:           config.RedisConfig.DB,
			PoolSize:     config.RedisConfig.PoolSize,
			MinIdleConns: config.RedisConfig.MinIdleConns,
			Prefix:       config.KeyPrefix,
		}, logger)
	case "kafka":
		k := config.KafkaConfig
		return NewKafkaQueue(KafkaQueueConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			GroupID:         k.GroupID,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			ReadTimeout:     k.ReadTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			MinBytes:        k.MinBytes,
			MaxBytes:        k.MaxBytes,
			MaxWait:         k.MaxWait,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported write-back queue type: %s", config.QueueType)
	}
}
