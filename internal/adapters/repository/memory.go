package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/dishlist/onebest/internal/domain/model"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// ephemeral runs; the engine's locking still serializes mutations per
// (user, scope), the store's own mutex only guards map access.
type MemoryStore struct {
	mu sync.RWMutex

	// rankings keyed by user|scope, kept sorted by rank ascending.
	rankings map[string][]model.Ranking
	// history keyed by user|scope|dish, in append order.
	history map[string][]model.RankHistoryEntry
	// dishRanks keyed by dish|scope: user -> current rank.
	dishRanks map[string]map[string]int
	// aggregates keyed by dish|scope.
	aggregates map[string]model.DishAggregate
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rankings:   make(map[string][]model.Ranking),
		history:    make(map[string][]model.RankHistoryEntry),
		dishRanks:  make(map[string]map[string]int),
		aggregates: make(map[string]model.DishAggregate),
	}
}

func userKey(userID string, scope model.Scope) string {
	return userID + "|" + string(scope)
}

func dishKey(dishID string, scope model.Scope) string {
	return dishID + "|" + string(scope)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// ListRankings implements Store.
func (s *MemoryStore) ListRankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rankings[userKey(userID, scope)]
	out := make([]model.Ranking, len(rows))
	copy(out, rows)
	return out, nil
}

// GetRanking implements Store.
func (s *MemoryStore) GetRanking(ctx context.Context, userID string, scope model.Scope, dishID string) (model.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rankings[userKey(userID, scope)] {
		if r.DishID == dishID {
			return r, nil
		}
	}
	return model.Ranking{}, ErrNotFound
}

// Apply implements Store.
func (s *MemoryStore) Apply(ctx context.Context, mut Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(mut.UserID, mut.Scope)
	byDish := make(map[string]model.Ranking)
	for _, r := range s.rankings[key] {
		byDish[r.DishID] = r
	}

	if mut.Delete != "" {
		if r, ok := byDish[mut.Delete]; ok {
			delete(byDish, mut.Delete)
			s.dropDishRank(r.DishID, mut.Scope, mut.UserID)
		}
	}
	for _, r := range mut.Upserts {
		byDish[r.DishID] = r
		dk := dishKey(r.DishID, mut.Scope)
		if s.dishRanks[dk] == nil {
			s.dishRanks[dk] = make(map[string]int)
		}
		s.dishRanks[dk][mut.UserID] = r.Rank
	}

	rows := make([]model.Ranking, 0, len(byDish))
	for _, r := range byDish {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	if len(rows) == 0 {
		delete(s.rankings, key)
	} else {
		s.rankings[key] = rows
	}

	for _, h := range mut.History {
		hk := key + "|" + h.DishID
		s.history[hk] = append(s.history[hk], h)
	}
	return nil
}

func (s *MemoryStore) dropDishRank(dishID string, scope model.Scope, userID string) {
	dk := dishKey(dishID, scope)
	if m, ok := s.dishRanks[dk]; ok {
		delete(m, userID)
		if len(m) == 0 {
			delete(s.dishRanks, dk)
		}
	}
}

// History implements Store. Entries come back newest first.
func (s *MemoryStore) History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.history[userKey(userID, scope)+"|"+dishID]
	out := make([]model.RankHistoryEntry, len(rows))
	for i, h := range rows {
		out[len(rows)-1-i] = h
	}
	return out, nil
}

// DishRanks implements Store.
func (s *MemoryStore) DishRanks(ctx context.Context, dishID string, scope model.Scope) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.dishRanks[dishKey(dishID, scope)]
	out := make([]int, 0, len(m))
	for _, rank := range m {
		out = append(out, rank)
	}
	sort.Ints(out)
	return out, nil
}

// GetAggregate implements Store.
func (s *MemoryStore) GetAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[dishKey(dishID, scope)]
	if !ok {
		return model.DishAggregate{}, ErrNotFound
	}
	return agg, nil
}

// PutAggregate implements Store.
func (s *MemoryStore) PutAggregate(ctx context.Context, agg model.DishAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregates[dishKey(agg.DishID, agg.Scope)] = agg
	return nil
}

// CountAggregates implements Store.
func (s *MemoryStore) CountAggregates(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aggregates), nil
}
