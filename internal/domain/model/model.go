// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// Scope names a partition of rankings (e.g. "all" or a category) within
// which one user's ranks form one dense permutation.
type Scope string

// ScopeAll is the default scope covering every dish.
const ScopeAll Scope = "all"

// Trend is the directional signal derived from successive aggregate
// snapshots for a dish.
type Trend string

// Trend values.
const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendNew  Trend = "new"
	TrendNone Trend = "none"
)

// Ranking is one user's position for one dish within one scope. For a fixed
// (user, scope) the rank values form the dense sequence 1..N.
type Ranking struct {
	UserID    string    `json:"user_id"`
	Scope     Scope     `json:"scope"`
	DishID    string    `json:"dish_id"`
	Rank      int       `json:"rank"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RankValue is the rank recorded in a history entry: either an active
// position or the terminal removed marker. A tagged variant avoids
// overloading a legitimate rank value as a removal sentinel.
type RankValue struct {
	rank    int
	removed bool
}

// ActiveRank builds a RankValue for a held position.
func ActiveRank(rank int) RankValue { return RankValue{rank: rank} }

// RemovedRank builds the terminal RankValue recorded when a dish leaves a
// user's list.
func RemovedRank() RankValue { return RankValue{removed: true} }

// Removed reports whether this value marks a removal.
func (v RankValue) Removed() bool { return v.removed }

// Rank returns the active rank and true, or 0 and false for a removal.
func (v RankValue) Rank() (int, bool) {
	if v.removed {
		return 0, false
	}
	return v.rank, true
}

// rankValueJSON is the wire/storage shape of RankValue.
type rankValueJSON struct {
	Rank    int  `json:"rank,omitempty"`
	Removed bool `json:"removed,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v RankValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rankValueJSON{Rank: v.rank, Removed: v.removed})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *RankValue) UnmarshalJSON(data []byte) error {
	var raw rankValueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.rank = raw.Rank
	v.removed = raw.Removed
	return nil
}

// RankHistoryEntry is an immutable, append-only fact recording one rank
// transition for one (user, scope, dish). Entries are never mutated or
// deleted after append.
type RankHistoryEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Scope        Scope     `json:"scope"`
	DishID       string    `json:"dish_id"`
	Rank         RankValue `json:"rank"`
	PreviousRank *int      `json:"previous_rank,omitempty"` // nil means newly entered
	Note         string    `json:"note,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// DishAggregate is the derived, recomputable cross-user projection for one
// dish in one scope. AverageRank is the mean of all current ranks; lower is
// better.
type DishAggregate struct {
	DishID              string    `json:"dish_id"`
	Scope               Scope     `json:"scope"`
	AverageRank         float64   `json:"average_rank"`
	RankCount           int       `json:"rank_count"`
	Trend               Trend     `json:"trend"`
	PreviousAverageRank *float64  `json:"previous_average_rank,omitempty"`
	RecomputedAt        time.Time `json:"recomputed_at"`
}

// RecomputeJob asks the aggregation pipeline to refresh one dish's
// aggregate in one scope.
type RecomputeJob struct {
	DishID string
	Scope  Scope
}

// Key returns the coalescing key for the job.
func (j RecomputeJob) Key() string {
	return string(j.Scope) + "/" + j.DishID
}
