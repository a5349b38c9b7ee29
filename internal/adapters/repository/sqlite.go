package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS rankings (
	user_id    TEXT NOT NULL,
	scope      TEXT NOT NULL,
	dish_id    TEXT NOT NULL,
	rank       INTEGER NOT NULL CHECK (rank >= 1),
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, scope, dish_id)
);
CREATE INDEX IF NOT EXISTS idx_rankings_user_rank ON rankings (user_id, scope, rank);
CREATE INDEX IF NOT EXISTS idx_rankings_dish ON rankings (dish_id, scope);

CREATE TABLE IF NOT EXISTS rank_history (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	scope         TEXT NOT NULL,
	dish_id       TEXT NOT NULL,
	rank          INTEGER NOT NULL DEFAULT 0,
	removed       INTEGER NOT NULL DEFAULT 0,
	previous_rank INTEGER,
	note          TEXT NOT NULL DEFAULT '',
	recorded_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_lookup ON rank_history (user_id, scope, dish_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS dish_aggregates (
	dish_id               TEXT NOT NULL,
	scope                 TEXT NOT NULL,
	average_rank          REAL NOT NULL,
	rank_count            INTEGER NOT NULL,
	trend                 TEXT NOT NULL,
	previous_average_rank REAL,
	recomputed_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (dish_id, scope)
);
`

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and bootstraps
// the schema. WAL mode keeps readers unblocked during mutations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListRankings implements Store.
func (s *SQLiteStore) ListRankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error) {
	defer observeQuery(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, scope, dish_id, rank, note, created_at, updated_at
		FROM rankings
		WHERE user_id = ? AND scope = ?
		ORDER BY rank ASC
	`, userID, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", mapSQLiteErr(err))
	}
	defer rows.Close()

	out := []model.Ranking{}
	for rows.Next() {
		r, err := scanRanking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rankings: %w", mapSQLiteErr(err))
	}
	return out, nil
}

// GetRanking implements Store.
func (s *SQLiteStore) GetRanking(ctx context.Context, userID string, scope model.Scope, dishID string) (model.Ranking, error) {
	defer observeQuery(time.Now())

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, scope, dish_id, rank, note, created_at, updated_at
		FROM rankings
		WHERE user_id = ? AND scope = ? AND dish_id = ?
	`, userID, string(scope), dishID)

	r, err := scanRanking(row)
	if err == sql.ErrNoRows {
		return model.Ranking{}, ErrNotFound
	}
	return r, err
}

// Apply implements Store. All writes run in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, mut Mutation) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreApplyLatency(float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutation: %w", mapSQLiteErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	if mut.Delete != "" {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM rankings WHERE user_id = ? AND scope = ? AND dish_id = ?
		`, mut.UserID, string(mut.Scope), mut.Delete); err != nil {
			return fmt.Errorf("delete ranking: %w", mapSQLiteErr(err))
		}
	}

	for _, r := range mut.Upserts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rankings (user_id, scope, dish_id, rank, note, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, scope, dish_id) DO UPDATE SET
				rank = excluded.rank,
				note = excluded.note,
				updated_at = excluded.updated_at
		`, r.UserID, string(r.Scope), r.DishID, r.Rank, r.Note, r.CreatedAt, r.UpdatedAt); err != nil {
			return fmt.Errorf("upsert ranking: %w", mapSQLiteErr(err))
		}
	}

	for _, h := range mut.History {
		rank, _ := h.Rank.Rank()
		removed := 0
		if h.Rank.Removed() {
			removed = 1
		}
		var prev sql.NullInt64
		if h.PreviousRank != nil {
			prev = sql.NullInt64{Int64: int64(*h.PreviousRank), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rank_history (id, user_id, scope, dish_id, rank, removed, previous_rank, note, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, h.ID, h.UserID, string(h.Scope), h.DishID, rank, removed, prev, h.Note, h.RecordedAt); err != nil {
			return fmt.Errorf("append history: %w", mapSQLiteErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutation: %w", mapSQLiteErr(err))
	}
	return nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error) {
	defer observeQuery(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, scope, dish_id, rank, removed, previous_rank, note, recorded_at
		FROM rank_history
		WHERE user_id = ? AND scope = ? AND dish_id = ?
		ORDER BY recorded_at DESC, rowid DESC
	`, userID, string(scope), dishID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", mapSQLiteErr(err))
	}
	defer rows.Close()

	out := []model.RankHistoryEntry{}
	for rows.Next() {
		var (
			h        model.RankHistoryEntry
			scopeStr string
			rank     int
			removed  int
			prev     sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.UserID, &scopeStr, &h.DishID, &rank, &removed, &prev, &h.Note, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		h.Scope = model.Scope(scopeStr)
		if removed != 0 {
			h.Rank = model.RemovedRank()
		} else {
			h.Rank = model.ActiveRank(rank)
		}
		if prev.Valid {
			p := int(prev.Int64)
			h.PreviousRank = &p
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", mapSQLiteErr(err))
	}
	return out, nil
}

// DishRanks implements Store.
func (s *SQLiteStore) DishRanks(ctx context.Context, dishID string, scope model.Scope) ([]int, error) {
	defer observeQuery(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT rank FROM rankings WHERE dish_id = ? AND scope = ?
	`, dishID, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list dish ranks: %w", mapSQLiteErr(err))
	}
	defer rows.Close()

	out := []int{}
	for rows.Next() {
		var rank int
		if err := rows.Scan(&rank); err != nil {
			return nil, fmt.Errorf("scan rank: %w", err)
		}
		out = append(out, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dish ranks: %w", mapSQLiteErr(err))
	}
	return out, nil
}

// GetAggregate implements Store.
func (s *SQLiteStore) GetAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	defer observeQuery(time.Now())

	row := s.db.QueryRowContext(ctx, `
		SELECT dish_id, scope, average_rank, rank_count, trend, previous_average_rank, recomputed_at
		FROM dish_aggregates
		WHERE dish_id = ? AND scope = ?
	`, dishID, string(scope))

	var (
		agg      model.DishAggregate
		scopeStr string
		trend    string
		prev     sql.NullFloat64
	)
	err := row.Scan(&agg.DishID, &scopeStr, &agg.AverageRank, &agg.RankCount, &trend, &prev, &agg.RecomputedAt)
	if err == sql.ErrNoRows {
		return model.DishAggregate{}, ErrNotFound
	}
	if err != nil {
		return model.DishAggregate{}, fmt.Errorf("scan aggregate: %w", mapSQLiteErr(err))
	}
	agg.Scope = model.Scope(scopeStr)
	agg.Trend = model.Trend(trend)
	if prev.Valid {
		p := prev.Float64
		agg.PreviousAverageRank = &p
	}
	return agg, nil
}

// PutAggregate implements Store.
func (s *SQLiteStore) PutAggregate(ctx context.Context, agg model.DishAggregate) error {
	var prev sql.NullFloat64
	if agg.PreviousAverageRank != nil {
		prev = sql.NullFloat64{Float64: *agg.PreviousAverageRank, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO dish_aggregates (dish_id, scope, average_rank, rank_count, trend, previous_average_rank, recomputed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dish_id, scope) DO UPDATE SET
			average_rank = excluded.average_rank,
			rank_count = excluded.rank_count,
			trend = excluded.trend,
			previous_average_rank = excluded.previous_average_rank,
			recomputed_at = excluded.recomputed_at
	`, agg.DishID, string(agg.Scope), agg.AverageRank, agg.RankCount, string(agg.Trend), prev, agg.RecomputedAt); err != nil {
		return fmt.Errorf("put aggregate: %w", mapSQLiteErr(err))
	}
	return nil
}

// CountAggregates implements Store.
func (s *SQLiteStore) CountAggregates(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dish_aggregates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count aggregates: %w", mapSQLiteErr(err))
	}
	return n, nil
}

// scanRanking reads one rankings row from either *sql.Row or *sql.Rows.
func scanRanking(row interface{ Scan(...any) error }) (model.Ranking, error) {
	var (
		r        model.Ranking
		scopeStr string
	)
	if err := row.Scan(&r.UserID, &scopeStr, &r.DishID, &r.Rank, &r.Note, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Ranking{}, err
		}
		return model.Ranking{}, fmt.Errorf("scan ranking: %w", err)
	}
	r.Scope = model.Scope(scopeStr)
	return r, nil
}

// mapSQLiteErr translates driver-level contention into ErrConflict so
// callers can surface it as a retryable condition.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			metrics.RecordErrorByComponent("repository", "contention")
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

func observeQuery(start time.Time) {
	metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
}
