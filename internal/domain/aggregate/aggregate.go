// Package aggregate recomputes per-dish cross-user statistics: average
// rank, rank count and the trend badge derived from successive snapshots.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dishlist/onebest/internal/adapters/repository"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/pkg/kmutex"
	"github.com/dishlist/onebest/pkg/metrics"
)

// DefaultEpsilon is the minimum average-rank delta treated as a real move.
// Smaller wobbles keep the trend at "none" so badges do not flap at high
// rank counts.
const DefaultEpsilon = 0.01

// Engine recomputes dish aggregates as a pure function of the current rank
// store contents. Recomputation for one (dish, scope) is serialized by a
// keyed lock; distinct dishes recompute in parallel.
type Engine struct {
	store   repository.Store
	locks   *kmutex.Kmutex
	epsilon float64
	now     func() time.Time
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithEpsilon sets the trend comparison threshold.
func WithEpsilon(epsilon float64) Option {
	return func(e *Engine) {
		if epsilon > 0 {
			e.epsilon = epsilon
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an aggregation engine over the store.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		locks:   kmutex.New(),
		epsilon: DefaultEpsilon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recompute rebuilds the aggregate for one (dish, scope) from the current
// rankings and stores it. The previous stored average drives the trend:
// strictly lower (better) by more than epsilon is "up", strictly higher is
// "down", no prior snapshot is "new", anything else is "none". A dish
// nobody ranks anymore keeps its row with a zero count.
func (e *Engine) Recompute(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRecomputeLatency(float64(time.Since(start).Milliseconds()))
	}()

	key := string(scope) + "/" + dishID
	if err := e.locks.Lock(ctx, key); err != nil {
		return model.DishAggregate{}, fmt.Errorf("serialize recompute: %w", err)
	}
	defer e.locks.Unlock(key)

	ranks, err := e.store.DishRanks(ctx, dishID, scope)
	if err != nil {
		return model.DishAggregate{}, fmt.Errorf("read dish ranks: %w", err)
	}

	prev, err := e.store.GetAggregate(ctx, dishID, scope)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.DishAggregate{}, fmt.Errorf("read prior aggregate: %w", err)
	}
	var prevAvg *float64
	if err == nil {
		prevAvg = prev.PreviousAverageRank
	}

	agg := model.DishAggregate{
		DishID:       dishID,
		Scope:        scope,
		RankCount:    len(ranks),
		RecomputedAt: e.now(),
	}
	if len(ranks) > 0 {
		sum := 0
		for _, r := range ranks {
			sum += r
		}
		agg.AverageRank = float64(sum) / float64(len(ranks))
	}

	switch {
	case prevAvg == nil:
		agg.Trend = model.TrendNew
	case agg.RankCount == 0:
		agg.Trend = model.TrendNone
	case agg.AverageRank < *prevAvg-e.epsilon:
		agg.Trend = model.TrendUp
	case agg.AverageRank > *prevAvg+e.epsilon:
		agg.Trend = model.TrendDown
	default:
		agg.Trend = model.TrendNone
	}

	// Snapshot the freshly computed average for the next comparison. A
	// zero-count pass keeps the last real average so a re-ranked dish is
	// compared against where it actually stood, not against zero.
	if agg.RankCount > 0 {
		avg := agg.AverageRank
		agg.PreviousAverageRank = &avg
	} else {
		agg.PreviousAverageRank = prevAvg
	}

	if err := e.store.PutAggregate(ctx, agg); err != nil {
		return model.DishAggregate{}, fmt.Errorf("store aggregate: %w", err)
	}

	metrics.RecordRecompute()
	if n, err := e.store.CountAggregates(ctx); err == nil {
		metrics.UpdateTrackedDishes(n)
	}
	return agg, nil
}
