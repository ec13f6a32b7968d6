package writeback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/registry"
)

func TestPrepare(t *testing.T) {
	tests := []struct {
		name  string
		batch *core.WriteBatch
		ok    bool
	}{
		{"nil", nil, false},
		{"no table", &core.WriteBatch{Statements: []string{"x"}}, false},
		{"no statements", &core.WriteBatch{Table: "T"}, false},
		{"valid", &core.WriteBatch{Table: "T", Statements: []string{"x"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := prepare(tt.batch)
			if tt.ok {
				if err != nil {
					t.Fatalf("prepare failed: %v", err)
				}
				if tt.batch.ID == "" || tt.batch.Timestamp.IsZero() {
					t.Fatalf("expected ID and timestamp to be filled, got %+v", tt.batch)
				}
				return
			}
			if !errors.Is(err, ErrInvalidBatch) {
				t.Fatalf("expected ErrInvalidBatch, got %v", err)
			}
		})
	}

	b := NewBatch("T", []string{"a"})
	id := b.ID
	if err := prepare(b); err != nil || b.ID != id {
		t.Fatalf("prepare must keep an existing ID, got %s (%v)", b.ID, err)
	}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	first := NewBatch("A", []string{"1"})
	second := NewBatch("B", []string{"2"})
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, NewBatch("C", []string{"3"})); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}

	got, err := q.Dequeue(ctx, 1)
	if err != nil || len(got) != 1 || got[0] != first {
		t.Fatalf("expected the first batch, got %v (%v)", got, err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Enqueue(ctx, NewBatch("D", []string{"4"})); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	got, err = q.Dequeue(ctx, 10)
	if err != nil || len(got) != 1 || got[0] != second {
		t.Fatalf("queued batches must survive Close, got %v (%v)", got, err)
	}
	if got, _ := q.Dequeue(ctx, 10); len(got) != 0 {
		t.Fatalf("expected an empty queue, got %d", len(got))
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestMemoryQueueRejectsInvalidBatch(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Enqueue(context.Background(), &core.WriteBatch{Table: "T"}); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("an invalid batch must not be queued")
	}
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(registry.InternalWriteBackConfig{QueueType: "memory", QueueBufferSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected *MemoryQueue, got %T", q)
	}

	if _, err := NewQueue(registry.InternalWriteBackConfig{QueueType: "sqs"}, nil); err == nil {
		t.Fatalf("expected an error for an unknown queue type")
	}
	if _, err := NewQueue(registry.InternalWriteBackConfig{QueueType: "redis"}, nil); err == nil {
		t.Fatalf("expected an error for redis without endpoints")
	}
	if _, err := NewQueue(registry.InternalWriteBackConfig{QueueType: "kafka"}, nil); err == nil {
		t.Fatalf("expected an error for kafka without brokers")
	}
}

// fakeRedisList implements the list commands the queue issues.
type fakeRedisList struct {
	redis.Cmdable
	mu    sync.Mutex
	lists map[string][]string
}

func (f *fakeRedisList) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append(f.lists[key], string(v.([]byte)))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedisList) LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if len(list) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	if count > len(list) {
		count = len(list)
	}
	out := list[:count]
	f.lists[key] = list[count:]
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedisList) LLen(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	client := &fakeRedisList{lists: make(map[string][]string)}
	closed := false
	q := newRedisQueue(client, func() error { closed = true; return nil }, "test", nil)

	b := NewBatch("Event", []string{"INSERT 1", "INSERT 2"})
	b.Applied = 1
	if err := q.Enqueue(ctx, b); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, NewBatch("Other", []string{"INSERT 3"})); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(client.lists["test:global"]) != 2 {
		t.Fatalf("expected batches under test:global, got %v", client.lists)
	}
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}

	client.lists["test:global"] = append(client.lists["test:global"], "not json")

	got, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 decodable batches, got %d", len(got))
	}
	if got[0].ID != b.ID || got[0].Applied != 1 || len(got[0].Statements) != 2 || got[1].Table != "Other" {
		t.Fatalf("batches must round trip in order, got %+v %+v", got[0], got[1])
	}

	if got, err := q.Dequeue(ctx, 10); err != nil || len(got) != 0 {
		t.Fatalf("expected an empty dequeue, got %v (%v)", got, err)
	}

	if err := q.Close(); err != nil || !closed {
		t.Fatalf("expected Close to close the client, err=%v", err)
	}
	if err := q.Enqueue(ctx, NewBatch("Event", []string{"x"})); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(ctx, 1); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("a closed queue reports size 0")
	}
}
