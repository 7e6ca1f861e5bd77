package entitycreator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/database"
	"github.com/rzpsarthak13/entity-creator/internal/schema"
)

// Drainer creates committed tables in the database.
// It reads commits from the CommitQueue and executes them at a controlled
// rate so a burst of commits does not turn into a burst of DDL.
type Drainer struct {
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	queue    core.CommitQueue
	executor CommitExecutor
	config   DrainerConfig
	logger   *slog.Logger

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// CommitExecutor executes commits and reports their outcome.
// This is implemented by the internal client.
type CommitExecutor interface {
	// ExecuteCommit creates and registers the table described by op.
	ExecuteCommit(ctx context.Context, op *core.CommitOperation) error

	// CompleteCommit reports the final outcome to the originating session.
	// cause is nil on success.
	CompleteCommit(ctx context.Context, op *core.CommitOperation, cause error) error
}

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of commits executed per second.
	DrainRate int

	// BatchSize is how many commits to dequeue at once.
	BatchSize int

	// PollInterval is how often to check for new commits when the queue is empty.
	PollInterval time.Duration

	// MaxRetries is the maximum number of retries for a failed commit.
	MaxRetries int

	// RetryBackoffBase is the delay before the first retry. It doubles on
	// every further retry.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the retry delay.
	RetryBackoffMax time.Duration
}

// DrainerStats counts what the drainer has done since it was created.
type DrainerStats struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`

	// Pending is the number of commits waiting in the queue.
	Pending int `json:"pending"`
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:        5,
		BatchSize:        10,
		PollInterval:     100 * time.Millisecond,
		MaxRetries:       5,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  30 * time.Second,
	}
}

// NewDrainer creates a new drainer instance.
func NewDrainer(queue core.CommitQueue, executor CommitExecutor, config DrainerConfig, logger *slog.Logger) *Drainer {
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
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if config.RetryBackoffMax < config.RetryBackoffBase {
		config.RetryBackoffMax = config.RetryBackoffBase
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Drainer{
		queue:    queue,
		executor: executor,
		config:   config,
		logger:   logger.With("component", "drainer"),
	}
}

// Start begins the drainer goroutine.
// This is non-blocking - the drainer runs in a separate goroutine.
// Call Stop() to gracefully shut down the drainer.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.doneCh = make(chan struct{})

	go d.run(runCtx, d.doneCh)
	d.logger.Info("drainer started", "drain_rate", d.config.DrainRate, "batch_size", d.config.BatchSize)
	return nil
}

// Stop gracefully stops the drainer and waits for it to exit.
// Commits that were dequeued but not started are put back on the queue.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel, doneCh := d.cancel, d.doneCh
	d.mu.Unlock()

	cancel()
	<-doneCh

	d.logger.Info("drainer stopped", "processed", d.processed.Load())
	return nil
}

// IsRunning returns whether the drainer is currently running.
func (d *Drainer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// QueueSize returns the current size of the commit queue.
func (d *Drainer) QueueSize() int {
	if d.queue == nil {
		return 0
	}
	return d.queue.Size()
}

// Stats returns the drainer counters.
func (d *Drainer) Stats() DrainerStats {
	return DrainerStats{
		Processed: d.processed.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Retried:   d.retried.Load(),
		Pending:   d.QueueSize(),
	}
}

// run is the main drainer loop.
func (d *Drainer) run(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)

	// DrainRate tokens per second, one commit per token.
	limiter := rate.NewLimiter(rate.Limit(d.config.DrainRate), 1)

	for {
		if ctx.Err() != nil {
			return
		}

		ops, err := d.queue.Dequeue(ctx, d.config.BatchSize)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("dequeue failed", "error", err)
		}
		if len(ops) == 0 {
			if !sleep(ctx, d.config.PollInterval) {
				return
			}
			continue
		}

		for i, op := range ops {
			if op == nil {
				continue
			}

			if err := limiter.Wait(ctx); err != nil {
				d.requeue(ops[i:])
				return
			}

			if !d.process(ctx, op) {
				d.requeue(ops[i:])
				return
			}
		}
	}
}

// process executes op with retries and reports the outcome. It returns
// false if the drainer was stopped before op finished.
func (d *Drainer) process(ctx context.Context, op *core.CommitOperation) bool {
	logger := d.logger.With("commit", op.ID, "session", op.SessionID, "table", op.TableName)

	var err error
	for attempt := 0; ; attempt++ {
		op.RetryCount = attempt

		start := time.Now()
		err = d.executor.ExecuteCommit(ctx, op)
		if err == nil {
			logger.Info("table created", "attempt", attempt+1, "duration", time.Since(start))
			break
		}
		if ctx.Err() != nil {
			return false
		}
		if !Retryable(err) || attempt >= d.config.MaxRetries {
			logger.Error("commit failed", "attempt", attempt+1, "error", err)
			break
		}

		wait := d.backoff(attempt)
		logger.Warn("commit failed, retrying", "attempt", attempt+1, "backoff", wait, "error", err)
		d.retried.Add(1)
		if !sleep(ctx, wait) {
			return false
		}
	}

	d.processed.Add(1)
	if err == nil {
		d.succeeded.Add(1)
	} else {
		d.failed.Add(1)
	}

	// The outcome must reach the session even while stopping.
	if cerr := d.executor.CompleteCommit(context.WithoutCancel(ctx), op, err); cerr != nil {
		logger.Error("failed to report commit outcome", "error", cerr)
	}
	return true
}

// backoff returns the delay before retry number attempt+1.
func (d *Drainer) backoff(attempt int) time.Duration {
	wait := d.config.RetryBackoffBase
	for i := 0; i < attempt && wait < d.config.RetryBackoffMax; i++ {
		wait *= 2
	}
	return min(wait, d.config.RetryBackoffMax)
}

func (d *Drainer) requeue(ops []*core.CommitOperation) {
	for _, op := range ops {
		if op == nil {
			continue
		}
		if err := d.queue.Enqueue(context.Background(), op); err != nil {
			d.logger.Error("failed to requeue commit", "commit", op.ID, "table", op.TableName, "error", err)
		}
	}
}

// Retryable reports whether a commit that failed with err may succeed on
// a later attempt. Invalid schemas and existing tables never do.
func Retryable(err error) bool {
	return !errors.Is(err, schema.ErrInvalidSchema) && !errors.Is(err, database.ErrTableExists)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
