// Package service wires the ranking engine, the aggregation pipeline and the
// store together behind the surface the HTTP API depends on.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	recomputequeue "github.com/dishlist/onebest/internal/adapters/mq/queue"
	workerpool "github.com/dishlist/onebest/internal/adapters/mq/worker"
	repository "github.com/dishlist/onebest/internal/adapters/repository"
	"github.com/dishlist/onebest/internal/domain/aggregate"
	"github.com/dishlist/onebest/internal/domain/coalesce"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/internal/domain/ranking"
	"github.com/dishlist/onebest/pkg/logger"
	"github.com/dishlist/onebest/pkg/metrics"
)

// Service implements the API dependencies for the ranking system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	engine     *ranking.Engine
	aggregates *aggregate.Engine
	coalescer  coalesce.Coalescer
	jobQueue   recomputequeue.Queue
	workerPool *workerpool.Pool

	// Configuration
	storePath     string
	memoryStore   bool
	workerCount   int
	queueCapacity int
	scopes        []model.Scope
	trendEpsilon  float64

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStorePath sets the SQLite database path.
func WithStorePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.storePath = path
			s.memoryStore = false
		}
	}
}

// WithMemoryStore makes the service keep all state in process. Useful for
// tests and throwaway runs.
func WithMemoryStore() Option {
	return func(s *Service) {
		s.memoryStore = true
	}
}

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueCapacity sets the maximum size of the recompute queue.
func WithQueueCapacity(capacity int) Option {
	return func(s *Service) {
		if capacity > 0 {
			s.queueCapacity = capacity
		}
	}
}

// WithScopes sets the scopes mutations and reads are accepted for.
func WithScopes(scopes []model.Scope) Option {
	return func(s *Service) {
		if len(scopes) > 0 {
			s.scopes = scopes
		}
	}
}

// WithTrendEpsilon sets the average movement below which trend stays flat.
func WithTrendEpsilon(epsilon float64) Option {
	return func(s *Service) {
		if epsilon > 0 {
			s.trendEpsilon = epsilon
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storePath:     "data/onebest.db",
		workerCount:   runtime.NumCPU() * 2,
		queueCapacity: 10000,
		scopes:        []model.Scope{model.ScopeAll},
		trendEpsilon:  aggregate.DefaultEpsilon,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting ranking service...")

	if s.memoryStore {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	} else {
		store, err := repository.OpenSQLite(ctx, s.storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.storePath))
	}

	s.coalescer = coalesce.New()
	s.jobQueue = recomputequeue.NewInMemoryQueue(
		recomputequeue.WithCapacity(s.queueCapacity),
	)
	s.aggregates = aggregate.New(s.store,
		aggregate.WithEpsilon(s.trendEpsilon),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s.aggregates, s.coalescer)
	s.workerPool.Start(ctx)

	s.engine = ranking.New(s.store,
		ranking.WithScopes(s.scopes),
		ranking.WithTrigger(ranking.TriggerFunc(s.schedule)),
		ranking.WithLogger(s.logger.Named("ranking")),
	)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueCapacity", s.queueCapacity),
		logger.Int("scopes", len(s.scopes)),
	)

	return nil
}

// Stop gracefully shuts down the service. The worker pool drains the
// recompute queue before the store closes.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping ranking service...")

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Error(ctx, "worker pool shutdown", logger.Error(err))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "store close", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "ranking service stopped")
}

// schedule coalesces and enqueues one recompute job. A dish already waiting
// in the queue is not enqueued again.
func (s *Service) schedule(ctx context.Context, job model.RecomputeJob) {
	if s.coalescer.SeenAndRecord(ctx, job.Key()) {
		metrics.RecordRecomputeCoalesced()
		return
	}

	if !s.jobQueue.Enqueue(ctx, job) {
		// The job is lost; release the key so the next mutation reschedules.
		s.coalescer.Unrecord(ctx, job.Key())
		s.logger.Warn(ctx, "recompute queue full, dropping job",
			logger.String("dishID", job.DishID),
			logger.String("scope", string(job.Scope)),
		)
		return
	}

	metrics.RecordRecomputeQueued()
	metrics.UpdateQueueSize(s.jobQueue.Len(ctx))
}

// RankDish inserts or moves a dish in the caller's list and returns the
// updated list.
func (s *Service) RankDish(ctx context.Context, userID string, scope model.Scope, dishID string, rank int, note string) ([]model.Ranking, error) {
	return s.engine.Upsert(ctx, userID, scope, dishID, rank, note)
}

// RemoveDish drops a dish from the caller's list and returns the updated
// list.
func (s *Service) RemoveDish(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.Ranking, error) {
	return s.engine.Remove(ctx, userID, scope, dishID)
}

// Rankings returns the caller's full list for a scope, rank ascending.
func (s *Service) Rankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error) {
	if err := s.checkScope(scope); err != nil {
		return nil, err
	}
	return s.store.ListRankings(ctx, userID, scope)
}

// DishAggregate returns the stored cross-user aggregate for a dish. Returns
// repository.ErrNotFound when the dish has never been ranked.
func (s *Service) DishAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	if err := s.checkScope(scope); err != nil {
		return model.DishAggregate{}, err
	}
	return s.store.GetAggregate(ctx, dishID, scope)
}

// DishTrend returns just the trend badge for a dish.
func (s *Service) DishTrend(ctx context.Context, dishID string, scope model.Scope) (model.Trend, error) {
	agg, err := s.DishAggregate(ctx, dishID, scope)
	if err != nil {
		return "", err
	}
	return agg.Trend, nil
}

// History returns the caller's ledger for one dish, newest first.
func (s *Service) History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error) {
	return s.engine.History(ctx, userID, scope, dishID)
}

// Scopes returns the scopes the service accepts.
func (s *Service) Scopes() []model.Scope {
	out := make([]model.Scope, len(s.scopes))
	copy(out, s.scopes)
	return out
}

func (s *Service) checkScope(scope model.Scope) error {
	for _, known := range s.scopes {
		if scope == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ranking.ErrInvalidScope, scope)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueCapacity": s.queueCapacity,
	}

	if s.started {
		queueLen := s.jobQueue.Len(ctx)
		trackedDishes, err := s.store.CountAggregates(ctx)
		if err != nil {
			s.logger.Error(ctx, "counting aggregates", logger.Error(err))
			trackedDishes = -1
		}

		stats["queueLength"] = queueLen
		stats["trackedDishes"] = trackedDishes
		stats["pendingRecomputes"] = s.coalescer.Size()

		metrics.UpdateQueueSize(queueLen)
		if trackedDishes >= 0 {
			metrics.UpdateTrackedDishes(trackedDishes)
		}
	}

	return stats
}
