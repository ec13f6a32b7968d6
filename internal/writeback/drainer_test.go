package writeback

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzpsarthak13/relmap/internal/testutil"
)

func testDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:        1000,
		BatchSize:        2,
		PollInterval:     time.Millisecond,
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  4 * time.Millisecond,
	}
}

func enqueue(t *testing.T, q *MemoryQueue, table string, statements ...string) {
	t.Helper()
	if err := q.Enqueue(context.Background(), NewBatch(table, statements)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestDrainerFlush(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	enqueue(t, q, "A", "a1", "a2")
	enqueue(t, q, "B", "b1")
	enqueue(t, q, "A", "a3")

	d := NewDrainer(q, exec, testDrainerConfig(), nil)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := strings.Join(exec.Statements(), ","); got != "a1,a2,b1,a3" {
		t.Fatalf("statements must run in queue order, got %s", got)
	}
	if d.Processed() != 3 || d.QueueSize() != 0 {
		t.Fatalf("expected 3 processed and an empty queue, got %d and %d", d.Processed(), d.QueueSize())
	}
}

func TestDrainerRetryResumesAfterApplied(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	failures := 2
	exec.FailExec = func(stmt string) error {
		if stmt == "s2" && failures > 0 {
			failures--
			return errors.New("deadlock")
		}
		return nil
	}
	enqueue(t, q, "T", "s1", "s2", "s3")

	d := NewDrainer(q, exec, testDrainerConfig(), nil)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := strings.Join(exec.Statements(), ","); got != "s1,s2,s3" {
		t.Fatalf("applied statements must not run again, got %s", got)
	}
	if d.Processed() != 1 || d.Dropped() != 0 {
		t.Fatalf("expected the batch to succeed, processed=%d dropped=%d", d.Processed(), d.Dropped())
	}
}

func TestDrainerDropsAfterMaxRetries(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	var attempts atomic.Int32
	exec.FailExec = func(stmt string) error {
		if stmt == "bad" {
			attempts.Add(1)
			return errors.New("constraint violation")
		}
		return nil
	}
	enqueue(t, q, "T", "bad")
	enqueue(t, q, "T", "good")

	cfg := testDrainerConfig()
	cfg.MaxRetries = 2
	d := NewDrainer(q, exec, cfg, nil)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", attempts.Load())
	}
	if d.Dropped() != 1 || d.Processed() != 1 {
		t.Fatalf("expected one dropped and one processed, got dropped=%d processed=%d", d.Dropped(), d.Processed())
	}
	if got := strings.Join(exec.Statements(), ","); got != "good" {
		t.Fatalf("expected only the good statement, got %s", got)
	}
}

func TestDrainerStartStop(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	d := NewDrainer(q, exec, testDrainerConfig(), nil)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.IsRunning() {
		t.Fatalf("expected the drainer to be running")
	}
	if err := d.Flush(ctx); !errors.Is(err, ErrDrainerRunning) {
		t.Fatalf("expected ErrDrainerRunning, got %v", err)
	}

	enqueue(t, q, "A", "a1")
	enqueue(t, q, "A", "a2")
	enqueue(t, q, "B", "b1")

	deadline := time.Now().Add(5 * time.Second)
	for d.Processed() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, processed %d", d.Processed())
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.IsRunning() {
		t.Fatalf("expected the drainer to be stopped")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if got := strings.Join(exec.Statements(), ","); got != "a1,a2,b1" {
		t.Fatalf("unexpected statements %s", got)
	}
}

func TestDrainerContextCancelClearsRunning(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	d := NewDrainer(q, exec, testDrainerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for d.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("drainer still running after its context was cancelled")
		}
		time.Sleep(time.Millisecond)
	}

	enqueue(t, q, "A", "a1")
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after cancellation failed: %v", err)
	}
	if got := strings.Join(exec.Statements(), ","); got != "a1" {
		t.Fatalf("unexpected statements %s", got)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop after cancellation failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !d.IsRunning() {
		t.Fatalf("expected the drainer to run again")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestDrainerStopRequeuesUnfinishedBatch(t *testing.T) {
	q := NewMemoryQueue(10)
	exec := testutil.NewExecutor()
	var attempts atomic.Int32
	exec.FailExec = func(stmt string) error {
		if stmt == "s2" {
			attempts.Add(1)
			return errors.New("unavailable")
		}
		return nil
	}
	enqueue(t, q, "T", "s1", "s2")

	cfg := testDrainerConfig()
	cfg.RetryBackoffBase = time.Hour
	cfg.RetryBackoffMax = time.Hour
	d := NewDrainer(q, exec, cfg, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for attempts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the first attempt")
		}
		time.Sleep(time.Millisecond)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if q.Size() != 1 {
		t.Fatalf("expected the interrupted batch back on the queue, size %d", q.Size())
	}
	got, _ := q.Dequeue(context.Background(), 1)
	if got[0].Applied != 1 || got[0].RetryCount != 1 {
		t.Fatalf("expected applied=1 retry=1, got %+v", got[0])
	}
}

func TestDrainerBackoff(t *testing.T) {
	d := NewDrainer(NewMemoryQueue(1), testutil.NewExecutor(), DrainerConfig{
		RetryBackoffBase: 10 * time.Millisecond,
		RetryBackoffMax:  35 * time.Millisecond,
	}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 35 * time.Millisecond},
		{9, 35 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := d.backoff(tt.attempt); got != tt.want {
			t.Fatalf("backoff(%d): expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestDrainerTableRate(t *testing.T) {
	cfg := testDrainerConfig()
	cfg.TableRate = func(table string) int {
		if table == "Slow" {
			return 2
		}
		return 0
	}
	d := NewDrainer(NewMemoryQueue(1), testutil.NewExecutor(), cfg, nil)

	if got := d.limiter("Slow").Limit(); got != 2 {
		t.Fatalf("expected the table rate 2, got %v", got)
	}
	if got := d.limiter("Fast").Limit(); got != 1000 {
		t.Fatalf("expected the default rate 1000, got %v", got)
	}
	if d.limiter("Slow") != d.limiter("Slow") {
		t.Fatalf("limiters must be cached per table")
	}
}
