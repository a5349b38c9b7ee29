// Package ranking implements the rank mutation engine: the single write
// path for a user's dish rankings.
//
// Every mutation is planned against the user's current list, applied
// atomically together with its history entries, and followed by a
// recompute trigger for each dish whose rank changed. Mutations on the
// same (user, scope) are serialized by a keyed lock; different pairs run
// fully in parallel.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dishlist/onebest/internal/adapters/repository"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/internal/domain/shift"
	"github.com/dishlist/onebest/pkg/kmutex"
	"github.com/dishlist/onebest/pkg/logger"
	"github.com/dishlist/onebest/pkg/metrics"
)

// Trigger schedules aggregate recomputation for one dish. The engine never
// waits for the recomputation to finish.
type Trigger interface {
	TriggerRecompute(ctx context.Context, job model.RecomputeJob)
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func(ctx context.Context, job model.RecomputeJob)

// TriggerRecompute implements Trigger.
func (f TriggerFunc) TriggerRecompute(ctx context.Context, job model.RecomputeJob) { f(ctx, job) }

// Engine owns all writes to the rank store and the history ledger.
type Engine struct {
	store   repository.Store
	trigger Trigger
	scopes  map[model.Scope]struct{}
	locks   *kmutex.Kmutex
	now     func() time.Time
	logger  logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithScopes sets the known ranking scopes. Mutations against any other
// scope are rejected with ErrInvalidScope.
func WithScopes(scopes []model.Scope) Option {
	return func(e *Engine) {
		if len(scopes) == 0 {
			return
		}
		e.scopes = make(map[model.Scope]struct{}, len(scopes))
		for _, s := range scopes {
			e.scopes[s] = struct{}{}
		}
	}
}

// WithTrigger sets the recompute trigger.
func WithTrigger(trigger Trigger) Option {
	return func(e *Engine) {
		if trigger != nil {
			e.trigger = trigger
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

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs a mutation engine over the store. By default only the
// "all" scope is known and recompute triggers are dropped.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		trigger: TriggerFunc(func(context.Context, model.RecomputeJob) {}),
		scopes:  map[model.Scope]struct{}{model.ScopeAll: {}},
		locks:   kmutex.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("ranking")
	}
	return e
}

// Upsert inserts dishID at rank for the user, or moves it there when
// already ranked. On success it returns the user's full updated list.
func (e *Engine) Upsert(ctx context.Context, userID string, scope model.Scope, dishID string, rank int, note string) ([]model.Ranking, error) {
	if err := e.checkScope(scope); err != nil {
		return nil, err
	}

	key := lockKey(userID, scope)
	if err := e.locks.Lock(ctx, key); err != nil {
		metrics.RecordMutationError("conflict")
		return nil, fmt.Errorf("%w: %v", ErrConcurrentMutation, err)
	}
	defer e.locks.Unlock(key)

	current, err := e.store.ListRankings(ctx, userID, scope)
	if err != nil {
		return nil, fmt.Errorf("read current rankings: %w", err)
	}

	plan, err := shift.PlanUpsert(current, dishID, rank)
	if err != nil {
		metrics.RecordMutationError(errorKind(err))
		return nil, err
	}

	if plan.NoOp {
		return e.applyNoteOnly(ctx, userID, scope, dishID, note, current)
	}

	mut, affected := e.buildMutation(userID, scope, plan, note, current)
	if err := e.apply(ctx, mut); err != nil {
		return nil, err
	}

	metrics.RecordMutation("upsert")
	e.logger.Debug(ctx, "rank upserted",
		logger.String("user", userID),
		logger.String("scope", string(scope)),
		logger.String("dish", dishID),
		logger.Int("rank", rank),
		logger.Int("rowsChanged", len(plan.Changes)),
	)

	e.triggerAll(ctx, scope, affected)
	return e.store.ListRankings(ctx, userID, scope)
}

// Remove deletes the user's ranking of dishID and closes the gap. On
// success it returns the user's full updated list.
func (e *Engine) Remove(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.Ranking, error) {
	if err := e.checkScope(scope); err != nil {
		return nil, err
	}

	key := lockKey(userID, scope)
	if err := e.locks.Lock(ctx, key); err != nil {
		metrics.RecordMutationError("conflict")
		return nil, fmt.Errorf("%w: %v", ErrConcurrentMutation, err)
	}
	defer e.locks.Unlock(key)

	current, err := e.store.ListRankings(ctx, userID, scope)
	if err != nil {
		return nil, fmt.Errorf("read current rankings: %w", err)
	}

	plan, err := shift.PlanRemove(current, dishID)
	if err != nil {
		metrics.RecordMutationError(errorKind(err))
		return nil, err
	}

	mut, affected := e.buildMutation(userID, scope, plan, "", current)
	mut.Delete = dishID
	if err := e.apply(ctx, mut); err != nil {
		return nil, err
	}

	metrics.RecordMutation("remove")
	e.logger.Debug(ctx, "rank removed",
		logger.String("user", userID),
		logger.String("scope", string(scope)),
		logger.String("dish", dishID),
		logger.Int("rowsChanged", len(plan.Changes)),
	)

	e.triggerAll(ctx, scope, affected)
	return e.store.ListRankings(ctx, userID, scope)
}

// History returns the ledger entries for (user, scope, dish), newest first.
func (e *Engine) History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error) {
	if err := e.checkScope(scope); err != nil {
		return nil, err
	}
	return e.store.History(ctx, userID, scope, dishID)
}

// applyNoteOnly handles an upsert whose rank already holds: an unchanged
// note is a full no-op; a changed note rewrites the row and records one
// ledger entry with the rank unchanged. No shifts, no recompute.
func (e *Engine) applyNoteOnly(ctx context.Context, userID string, scope model.Scope, dishID, note string, current []model.Ranking) ([]model.Ranking, error) {
	row, ok := findDish(current, dishID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if note == "" || row.Note == note {
		return current, nil
	}

	prev := row.Rank
	row.Note = note
	row.UpdatedAt = e.now()
	mut := repository.Mutation{
		UserID:  userID,
		Scope:   scope,
		Upserts: []model.Ranking{row},
		History: []model.RankHistoryEntry{{
			ID:           uuid.NewString(),
			UserID:       userID,
			Scope:        scope,
			DishID:       dishID,
			Rank:         model.ActiveRank(row.Rank),
			PreviousRank: &prev,
			Note:         note,
			RecordedAt:   row.UpdatedAt,
		}},
	}
	if err := e.apply(ctx, mut); err != nil {
		return nil, err
	}
	metrics.RecordMutation("upsert")
	return e.store.ListRankings(ctx, userID, scope)
}

// buildMutation turns a shift plan into store rows plus one history entry
// per changed row. The note applies to the target dish only; shifted rows
// keep theirs.
func (e *Engine) buildMutation(userID string, scope model.Scope, plan shift.Plan, note string, current []model.Ranking) (repository.Mutation, []string) {
	now := e.now()
	mut := repository.Mutation{UserID: userID, Scope: scope}

	for _, c := range plan.Changes {
		rowNote := note
		row, existed := findDish(current, c.DishID)
		// Shifted rows keep their note; so does the target when the caller
		// sends none.
		if existed && (c.DishID != plan.Target || note == "") {
			rowNote = row.Note
		}

		if c.To != 0 {
			updated := model.Ranking{
				UserID:    userID,
				Scope:     scope,
				DishID:    c.DishID,
				Rank:      c.To,
				Note:      rowNote,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if existed {
				updated.CreatedAt = row.CreatedAt
			}
			mut.Upserts = append(mut.Upserts, updated)
		}

		entry := model.RankHistoryEntry{
			ID:         uuid.NewString(),
			UserID:     userID,
			Scope:      scope,
			DishID:     c.DishID,
			Note:       rowNote,
			RecordedAt: now,
		}
		if c.To == 0 {
			entry.Rank = model.RemovedRank()
		} else {
			entry.Rank = model.ActiveRank(c.To)
		}
		if c.From != 0 {
			from := c.From
			entry.PreviousRank = &from
		}
		mut.History = append(mut.History, entry)
	}

	metrics.RecordRowsShifted(len(plan.Changes))
	metrics.RecordHistoryEntries(len(mut.History))
	return mut, plan.Dishes()
}

func (e *Engine) apply(ctx context.Context, mut repository.Mutation) error {
	if err := e.store.Apply(ctx, mut); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.RecordMutationError("conflict")
			return fmt.Errorf("%w: %v", ErrConcurrentMutation, err)
		}
		return fmt.Errorf("apply mutation: %w", err)
	}
	return nil
}

func (e *Engine) triggerAll(ctx context.Context, scope model.Scope, dishes []string) {
	for _, d := range dishes {
		e.trigger.TriggerRecompute(ctx, model.RecomputeJob{DishID: d, Scope: scope})
	}
}

func (e *Engine) checkScope(scope model.Scope) error {
	if _, ok := e.scopes[scope]; !ok {
		metrics.RecordMutationError("invalid_scope")
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, shift.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, shift.ErrNotRanked):
		return "not_ranked"
	default:
		return "other"
	}
}

func findDish(current []model.Ranking, dishID string) (model.Ranking, bool) {
	for _, r := range current {
		if r.DishID == dishID {
			return r, true
		}
	}
	return model.Ranking{}, false
}

func lockKey(userID string, scope model.Scope) string {
	return userID + "|" + string(scope)
}
