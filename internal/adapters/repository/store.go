// Package repository defines the ranking store contract and its SQLite and
// in-memory implementations.
//
// The store keeps three collections: rankings (current dense permutations),
// rank_history (append-only ledger) and dish_aggregates (derived
// projection). Ranking rows and their history entries are only ever written
// together through Apply, which is atomic: both land or neither does.
package repository

import (
	"context"

	"github.com/dishlist/onebest/internal/domain/model"
)

// Mutation is one atomic write against a single (user, scope): the rows to
// upsert, an optional row to delete, and the ledger entries recording every
// rank transition.
type Mutation struct {
	UserID  string
	Scope   model.Scope
	Upserts []model.Ranking
	Delete  string // dish id to delete; empty when the mutation removes nothing
	History []model.RankHistoryEntry
}

// Store provides access to rankings, the history ledger and aggregates.
type Store interface {
	// ListRankings returns a user's rankings in a scope ordered by rank
	// ascending. An unknown user yields an empty list, not an error.
	ListRankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error)

	// GetRanking returns one ranking row. Returns ErrNotFound when the user
	// does not rank the dish.
	GetRanking(ctx context.Context, userID string, scope model.Scope, dishID string) (model.Ranking, error)

	// Apply writes one mutation atomically.
	Apply(ctx context.Context, mut Mutation) error

	// History returns the ledger entries for (user, scope, dish) ordered by
	// recorded_at descending.
	History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error)

	// DishRanks returns the current rank every user assigns the dish in the
	// scope. Empty when nobody ranks it.
	DishRanks(ctx context.Context, dishID string, scope model.Scope) ([]int, error)

	// GetAggregate returns the stored aggregate for a dish. Returns
	// ErrNotFound when the dish has never been recomputed.
	GetAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error)

	// PutAggregate stores the aggregate projection for a dish. Only the
	// aggregation engine calls this.
	PutAggregate(ctx context.Context, agg model.DishAggregate) error

	// CountAggregates returns the number of stored aggregates.
	CountAggregates(ctx context.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}
