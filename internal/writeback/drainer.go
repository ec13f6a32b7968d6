package writeback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/relmap/internal/core"
)

// ErrDrainerRunning is returned by Flush while the background loop runs.
var ErrDrainerRunning = errors.New("drainer is running")

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of statements executed per second.
	DrainRate int

	// BatchSize is how many batches to dequeue at once.
	BatchSize int

	// PollInterval is how often to check for new batches when the queue is empty.
	PollInterval time.Duration

	// MaxRetries is the number of retries of a failing batch before it is dropped.
	MaxRetries int

	// RetryBackoffBase is the first retry delay; each retry doubles it.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the retry delay.
	RetryBackoffMax time.Duration

	// TableRate optionally returns a per-table statement rate. Tables for
	// which it returns 0 use DrainRate.
	TableRate func(table string) int
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:        50,
		BatchSize:        1,
		PollInterval:     100 * time.Millisecond,
		MaxRetries:       3,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  30 * time.Second,
	}
}

// Drainer moves batches from a WriteBackQueue into the database. Statements
// of a batch run in order; a failing batch is retried from the statement
// that failed.
type Drainer struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	queue  core.WriteBackQueue
	exec   core.StatementExecutor
	config DrainerConfig
	logger *zap.SugaredLogger

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	processed atomic.Int64
	dropped   atomic.Int64
}

// NewDrainer creates a drainer reading from queue and executing through exec.
func NewDrainer(queue core.WriteBackQueue, exec core.StatementExecutor, config DrainerConfig, logger *zap.SugaredLogger) *Drainer {
	defaults := DefaultDrainerConfig()
	if config.DrainRate <= 0 {
		config.DrainRate = defaults.DrainRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoffMax < config.RetryBackoffBase {
		config.RetryBackoffMax = config.RetryBackoffBase
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Drainer{
		queue:    queue,
		exec:     exec,
		config:   config,
		logger:   logger.Named("drainer"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start begins the drainer goroutine. It is non-blocking; call Stop to shut
// the drainer down.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	go d.run(ctx, d.stopCh, d.doneCh)
	d.logger.Infow("drainer started", "drain_rate", d.config.DrainRate, "batch_size", d.config.BatchSize)
	return nil
}

// Stop stops the drainer and waits for the batch in progress to finish or
// be put back on the queue.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	<-doneCh
	d.logger.Infow("drainer stopped", "processed", d.processed.Load(), "dropped", d.dropped.Load())
	return nil
}

// exited clears the running state when the loop ends on its own, through
// context cancellation or a closed queue.
func (d *Drainer) exited(doneCh chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doneCh == doneCh && d.running {
		d.running = false
		d.logger.Infow("drainer exited", "processed", d.processed.Load(), "dropped", d.dropped.Load())
	}
}

// IsRunning returns whether the drainer is currently running.
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// QueueSize returns the current size of the write-back queue.
func (d *Drainer) QueueSize() int {
	return d.queue.Size()
}

// Processed returns the number of batches fully executed.
func (d *Drainer) Processed() int64 { return d.processed.Load() }

// Dropped returns the number of batches abandoned after exhausting retries.
func (d *Drainer) Dropped() int64 { return d.dropped.Load() }

// Flush synchronously drains the queue until it is empty. It cannot run
// while the background loop is running.
func (d *Drainer) Flush(ctx context.Context) error {
	if d.IsRunning() {
		return ErrDrainerRunning
	}
	for {
		batches, err := d.queue.Dequeue(ctx, d.config.BatchSize)
		if err != nil && !errors.Is(err, ErrQueueClosed) {
			return err
		}
		if len(batches) == 0 {
			return nil
		}
		for _, batch := range batches {
			if err := d.handle(ctx, nil, batch); err != nil {
				return err
			}
		}
	}
}

func (d *Drainer) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer d.exited(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		batches, err := d.queue.Dequeue(ctx, d.config.BatchSize)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return
			}
			d.logger.Errorw("dequeue failed", "error", err)
		}
		if len(batches) == 0 {
			if !d.sleep(ctx, stopCh, d.config.PollInterval) {
				return
			}
			continue
		}

		for i, batch := range batches {
			if err := d.handle(ctx, stopCh, batch); err != nil {
				d.requeue(append([]*core.WriteBatch{batch}, batches[i+1:]...))
				return
			}
		}
	}
}

// handle executes a batch, retrying with exponential backoff. It returns an
// error only when interrupted; the batch is then incomplete.
func (d *Drainer) handle(ctx context.Context, stopCh chan struct{}, batch *core.WriteBatch) error {
	for {
		err := d.execute(ctx, batch)
		if err == nil {
			d.processed.Add(1)
			d.logger.Debugw("batch written", "id", batch.ID, "table", batch.Table, "statements", len(batch.Statements))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch.RetryCount++
		if batch.RetryCount > d.config.MaxRetries {
			d.dropped.Add(1)
			d.logger.Errorw("dropping batch after retries",
				"id", batch.ID, "table", batch.Table, "applied", batch.Applied,
				"retries", batch.RetryCount-1, "error", err)
			return nil
		}

		backoff := d.backoff(batch.RetryCount)
		d.logger.Warnw("batch failed, retrying",
			"id", batch.ID, "table", batch.Table, "attempt", batch.RetryCount, "backoff", backoff, "error", err)
		if !d.sleep(ctx, stopCh, backoff) {
			return fmt.Errorf("drainer interrupted while retrying batch %s", batch.ID)
		}
	}
}

// execute runs the statements of batch not yet applied.
func (d *Drainer) execute(ctx context.Context, batch *core.WriteBatch) error {
	limiter := d.limiter(batch.Table)
	for batch.Applied < len(batch.Statements) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.exec.Execute(ctx, batch.Statements[batch.Applied]); err != nil {
			return err
		}
		batch.Applied++
	}
	return nil
}

func (d *Drainer) limiter(table string) *rate.Limiter {
	d.limMu.Lock()
	defer d.limMu.Unlock()

	if l, ok := d.limiters[table]; ok {
		return l
	}
	r := d.config.DrainRate
	if d.config.TableRate != nil {
		if tr := d.config.TableRate(table); tr > 0 {
			r = tr
		}
	}
	l := rate.NewLimiter(rate.Limit(r), 1)
	d.limiters[table] = l
	return l
}

func (d *Drainer) backoff(attempt int) time.Duration {
	b := d.config.RetryBackoffBase
	for i := 1; i < attempt && b < d.config.RetryBackoffMax; i++ {
		b *= 2
	}
	if b > d.config.RetryBackoffMax {
		b = d.config.RetryBackoffMax
	}
	return b
}

// sleep waits for dur and reports false if interrupted first.
func (d *Drainer) sleep(ctx context.Context, stopCh chan struct{}, dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}

// requeue puts unfinished batches back on the queue.
func (d *Drainer) requeue(batches []*core.WriteBatch) {
	for _, b := range batches {
		if err := d.queue.Enqueue(context.Background(), b); err != nil {
			d.logger.Errorw("failed to requeue batch", "id", b.ID, "table", b.Table, "error", err)
		}
	}
}
