// Package worker drains the recompute queue and refreshes dish aggregates.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/pkg/logger"
	"github.com/dishlist/onebest/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = model.RecomputeJob

// Recomputer refreshes the cross-user aggregate for one dish in one scope.
type Recomputer interface {
	Recompute(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error)
}

// Coalescer releases a job key once the job has been picked up, so the next
// mutation for the same dish schedules a fresh recompute.
type Coalescer interface {
	Unrecord(ctx context.Context, key string)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes recompute jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker over the in-process queue.
type InMemoryWorker struct {
	queue      Queue
	recomputer Recomputer
	coalescer  Coalescer
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, recomputer Recomputer, coalescer Coalescer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		recomputer: recomputer,
		coalescer:  coalescer,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobChan:
			if !ok {
				// Channel closed, queue is drained.
				return
			}
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error(ctx, "error processing recompute job", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob refreshes the aggregate for a single dish/scope pair.
func (w *InMemoryWorker) processJob(ctx context.Context, job Job) error {
	// Release the coalescing key before recomputing so a mutation that lands
	// mid-recompute schedules another pass rather than being swallowed.
	if w.coalescer != nil {
		w.coalescer.Unrecord(ctx, job.Key())
	}

	start := time.Now()
	agg, err := w.recomputer.Recompute(ctx, job.DishID, job.Scope)
	metrics.RecordWorkerJobLatency(float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "recompute_error")
		w.logger.Error(ctx, "recompute failed",
			logger.String("dishID", job.DishID),
			logger.String("scope", string(job.Scope)),
			logger.Error(err),
		)
		return fmt.Errorf("recompute dish %s: %w", job.DishID, err)
	}

	w.logger.Debug(ctx, "aggregate refreshed",
		logger.String("dishID", job.DishID),
		logger.String("scope", string(job.Scope)),
		logger.Float64("average", agg.AverageRank),
		logger.Int("count", agg.RankCount),
	)
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a worker pool of the given size. A size below one falls
// back to a CPU-scaled default.
func NewPool(workerCount int, queue Queue, recomputer Recomputer, coalescer Coalescer) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			queue,
			recomputer,
			coalescer,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size reports the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Shutdown gracefully shuts down the entire worker pool. The queue is closed
// first so workers drain whatever jobs remain before stopping.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.shutdown:
		default:
			close(w.shutdown)
		}
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	metrics.UpdateWorkerCount(0)

	return nil
}
