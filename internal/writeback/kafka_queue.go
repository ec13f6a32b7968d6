package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// KafkaQueue implements WriteBackQueue using Apache Kafka.
// Batches are keyed by table so the batches of one table stay ordered
// within a partition.
type KafkaQueue struct {
	writer      *kafka.Writer
	reader      *kafka.Reader
	topic       string
	groupID     string
	readTimeout time.Duration
	closed      bool
	mu          sync.RWMutex
	size        int // Approximate size (not exact for Kafka)
	logger      *zap.SugaredLogger
}

// KafkaQueueConfig holds configuration for Kafka queue.
type KafkaQueueConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequiredAcks    int // 0, 1, or -1 (all)
	MaxMessageBytes int
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
}

// NewKafkaQueue creates a new Kafka-based write-back queue.
func NewKafkaQueue(config KafkaQueueConfig, logger *zap.SugaredLogger) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "relmap-inserts"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.Named("writeback.kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
		Async:        false,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	logger.Infow("kafka queue initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group_id", config.GroupID,
		"required_acks", config.RequiredAcks)

	return &KafkaQueue{
		writer:      writer,
		reader:      reader,
		topic:       config.Topic,
		groupID:     config.GroupID,
		readTimeout: config.ReadTimeout,
		logger:      logger,
	}, nil
}

// Enqueue produces a batch to the topic.
func (q *KafkaQueue) Enqueue(ctx context.Context, batch *core.WriteBatch) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}
	if err := prepare(batch); err != nil {
		return err
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal write batch: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(batch.Table),
		Value: data,
		Time:  batch.Timestamp,
		Headers: []kafka.Header{
			{Key: "batch_id", Value: []byte(batch.ID)},
			{Key: "table", Value: []byte(batch.Table)},
		},
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		q.logger.Errorw("failed to produce batch", "topic", q.topic, "id", batch.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.logger.Debugw("produced batch", "topic", q.topic, "id", batch.ID, "table", batch.Table, "bytes", len(data), "duration", time.Since(start))
	return nil
}

// Dequeue consumes up to batchSize batches. A read that times out ends the
// batch early. Offsets are committed once a message has been decoded.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteBatch, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	batches := make([]*core.WriteBatch, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		readCtx, cancel := context.WithTimeout(ctx, q.readTimeout)
		message, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			q.logger.Errorw("failed to read message", "topic", q.topic, "error", err)
			break
		}

		var batch core.WriteBatch
		if err := json.Unmarshal(message.Value, &batch); err != nil {
			q.logger.Errorw("skipping undecodable message",
				"partition", message.Partition, "offset", message.Offset, "error", err)
		} else {
			batches = append(batches, &batch)
		}

		if err := q.reader.CommitMessages(ctx, message); err != nil {
			q.logger.Warnw("failed to commit offset",
				"partition", message.Partition, "offset", message.Offset, "error", err)
		}
	}

	if len(batches) > 0 {
		q.mu.Lock()
		q.size -= len(batches)
		if q.size < 0 {
			q.size = 0
		}
		q.mu.Unlock()
		q.logger.Debugw("consumed batches", "topic", q.topic, "group_id", q.groupID, "count", len(batches))
	}
	return batches, nil
}

// Size returns an approximate number of batches in the queue, counting only
// batches produced and consumed by this process.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close closes the Kafka writer and reader.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.writer.Close(); err != nil {
		q.logger.Errorw("failed to close writer", "error", err)
	}
	if err := q.reader.Close(); err != nil {
		q.logger.Errorw("failed to close reader", "error", err)
		return err
	}
	return nil
}
