// Package shift computes dense-permutation shift plans for rank mutations.
//
// A plan is the full set of (dish, previous rank, new rank) changes needed
// to insert, move, or remove one dish while keeping a user's ranks exactly
// 1..N with no duplicates and no gaps. Planning is pure: callers apply the
// plan to the store and append the matching history entries.
package shift

import "github.com/dishlist/onebest/internal/domain/model"

// Change records one row whose rank changes. From is 0 when the dish was
// not ranked before; To is 0 when the dish leaves the list.
type Change struct {
	DishID string
	From   int
	To     int
}

// Plan is the outcome of planning one mutation.
type Plan struct {
	// Target is the dish the caller asked to mutate.
	Target string

	// Changes holds one entry per row whose rank changes, target included.
	// Empty for a no-op move.
	Changes []Change

	// NoOp is true when the target already sits at the requested rank.
	NoOp bool
}

// Dishes returns the distinct dish ids affected by the plan, target first.
func (p Plan) Dishes() []string {
	out := make([]string, 0, len(p.Changes)+1)
	seen := map[string]bool{p.Target: true}
	out = append(out, p.Target)
	for _, c := range p.Changes {
		if !seen[c.DishID] {
			seen[c.DishID] = true
			out = append(out, c.DishID)
		}
	}
	return out
}

// PlanUpsert plans inserting dishID at rank, or moving it there when it is
// already ranked. current must be the user's rankings ordered by rank
// ascending. Legal ranks are [1, N+1] for an insert and [1, N] for a move;
// anything else returns ErrOutOfRange.
func PlanUpsert(current []model.Ranking, dishID string, rank int) (Plan, error) {
	n := len(current)
	old := rankOf(current, dishID)

	if old == 0 {
		// Insert.
		if rank < 1 || rank > n+1 {
			return Plan{}, ErrOutOfRange
		}
		p := Plan{Target: dishID}
		for _, r := range current {
			if r.Rank >= rank {
				p.Changes = append(p.Changes, Change{DishID: r.DishID, From: r.Rank, To: r.Rank + 1})
			}
		}
		p.Changes = append(p.Changes, Change{DishID: dishID, From: 0, To: rank})
		return p, nil
	}

	// Move.
	if rank < 1 || rank > n {
		return Plan{}, ErrOutOfRange
	}
	if rank == old {
		return Plan{Target: dishID, NoOp: true}, nil
	}

	p := Plan{Target: dishID}
	if rank < old {
		// Everything in [rank, old-1] slides up by one.
		for _, r := range current {
			if r.Rank >= rank && r.Rank < old {
				p.Changes = append(p.Changes, Change{DishID: r.DishID, From: r.Rank, To: r.Rank + 1})
			}
		}
	} else {
		// Everything in [old+1, rank] slides down by one.
		for _, r := range current {
			if r.Rank > old && r.Rank <= rank {
				p.Changes = append(p.Changes, Change{DishID: r.DishID, From: r.Rank, To: r.Rank - 1})
			}
		}
	}
	p.Changes = append(p.Changes, Change{DishID: dishID, From: old, To: rank})
	return p, nil
}

// PlanRemove plans removing dishID from the list; every row below it closes
// the gap. Returns ErrNotRanked when the dish is absent.
func PlanRemove(current []model.Ranking, dishID string) (Plan, error) {
	old := rankOf(current, dishID)
	if old == 0 {
		return Plan{}, ErrNotRanked
	}

	p := Plan{Target: dishID}
	p.Changes = append(p.Changes, Change{DishID: dishID, From: old, To: 0})
	for _, r := range current {
		if r.Rank > old {
			p.Changes = append(p.Changes, Change{DishID: r.DishID, From: r.Rank, To: r.Rank - 1})
		}
	}
	return p, nil
}

// rankOf returns the dish's current rank, or 0 when unranked.
func rankOf(current []model.Ranking, dishID string) int {
	for _, r := range current {
		if r.DishID == dishID {
			return r.Rank
		}
	}
	return 0
}
