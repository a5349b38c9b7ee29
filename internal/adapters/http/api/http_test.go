package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dishlist/onebest/internal/adapters/http/api"
	"github.com/dishlist/onebest/internal/adapters/repository"
	"github.com/dishlist/onebest/internal/domain/aggregate"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/internal/domain/ranking"
	"github.com/dishlist/onebest/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// testDeps backs the handlers with the real engines over the in-memory
// store, recomputing aggregates synchronously so reads observe mutations
// immediately.
type testDeps struct {
	engine     *ranking.Engine
	aggregates *aggregate.Engine
	store      repository.Store
}

func newTestDeps() *testDeps {
	store := repository.NewMemoryStore()
	d := &testDeps{store: store}
	d.aggregates = aggregate.New(store)
	d.engine = ranking.New(store,
		ranking.WithTrigger(ranking.TriggerFunc(func(ctx context.Context, job model.RecomputeJob) {
			_, _ = d.aggregates.Recompute(ctx, job.DishID, job.Scope)
		})),
	)
	return d
}

func (d *testDeps) RankDish(ctx context.Context, userID string, scope model.Scope, dishID string, rank int, note string) ([]model.Ranking, error) {
	return d.engine.Upsert(ctx, userID, scope, dishID, rank, note)
}

func (d *testDeps) RemoveDish(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.Ranking, error) {
	return d.engine.Remove(ctx, userID, scope, dishID)
}

func (d *testDeps) checkScope(scope model.Scope) error {
	if scope != model.ScopeAll {
		return ranking.ErrInvalidScope
	}
	return nil
}

func (d *testDeps) Rankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error) {
	if err := d.checkScope(scope); err != nil {
		return nil, err
	}
	return d.store.ListRankings(ctx, userID, scope)
}

func (d *testDeps) DishAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	if err := d.checkScope(scope); err != nil {
		return model.DishAggregate{}, err
	}
	return d.store.GetAggregate(ctx, dishID, scope)
}

func (d *testDeps) DishTrend(ctx context.Context, dishID string, scope model.Scope) (model.Trend, error) {
	agg, err := d.DishAggregate(ctx, dishID, scope)
	if err != nil {
		return "", err
	}
	return agg.Trend, nil
}

func (d *testDeps) History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error) {
	return d.engine.History(ctx, userID, scope, dishID)
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true}
}

func newTestMux() (*http.ServeMux, *testDeps) {
	deps := newTestDeps()
	srv := api.NewServer(deps, mockStats{})
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	return mux, deps
}

func doRank(mux *http.ServeMux, userID, dishID string, rank int, note string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]any{"dish_id": dishID, "rank": rank, "note": note})
	req := httptest.NewRequest(http.MethodPost, "/rank", bytes.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func doGet(mux *http.ServeMux, userID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAPI_RankEndpoint(t *testing.T) {
	Convey("Given the API server", t, func() {
		mux, _ := newTestMux()

		Convey("When posting a valid ranking", func() {
			rec := doRank(mux, "user-a", "ramen", 1, "top broth")

			Convey("Then the updated list comes back", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Scope    model.Scope     `json:"scope"`
					Rankings []model.Ranking `json:"rankings"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Scope, ShouldEqual, model.ScopeAll)
				So(resp.Rankings, ShouldHaveLength, 1)
				So(resp.Rankings[0].Rank, ShouldEqual, 1)
			})
		})

		Convey("When the identity header is missing", func() {
			rec := doRank(mux, "", "ramen", 1, "")

			Convey("Then the request is rejected with 401", func() {
				So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the body is malformed", func() {
			req := httptest.NewRequest(http.MethodPost, "/rank", bytes.NewReader([]byte("{not json")))
			req.Header.Set("X-User-ID", "user-a")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the rank is outside the valid window", func() {
			rec := doRank(mux, "user-a", "ramen", 5, "")

			Convey("Then the API answers 422", func() {
				So(rec.Code, ShouldEqual, http.StatusUnprocessableEntity)
				var resp struct {
					Code string `json:"code"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Code, ShouldEqual, "rank_out_of_range")
			})
		})

		Convey("When the rank is not a positive integer", func() {
			rec := doRank(mux, "user-a", "ramen", 0, "")

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAPI_RemoveEndpoint(t *testing.T) {
	Convey("Given a user with two ranked dishes", t, func() {
		mux, _ := newTestMux()
		So(doRank(mux, "user-a", "ramen", 1, "").Code, ShouldEqual, http.StatusOK)
		So(doRank(mux, "user-a", "tacos", 2, "").Code, ShouldEqual, http.StatusOK)

		Convey("When deleting the first dish via a JSON body", func() {
			body := []byte(`{"scope":"all","dish_id":"ramen"}`)
			req := httptest.NewRequest(http.MethodDelete, "/rank", bytes.NewReader(body))
			req.Header.Set("X-User-ID", "user-a")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Convey("Then the survivor closes the gap", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Rankings []model.Ranking `json:"rankings"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Rankings, ShouldHaveLength, 1)
				So(resp.Rankings[0].DishID, ShouldEqual, "tacos")
				So(resp.Rankings[0].Rank, ShouldEqual, 1)
			})
		})

		Convey("When deleting with a bodyless request and query parameters", func() {
			req := httptest.NewRequest(http.MethodDelete, "/rank?dish_id=ramen", nil)
			req.Header.Set("X-User-ID", "user-a")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Convey("Then the removal still succeeds", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Rankings []model.Ranking `json:"rankings"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Rankings, ShouldHaveLength, 1)
				So(resp.Rankings[0].DishID, ShouldEqual, "tacos")
			})
		})

		Convey("When deleting with neither body nor query parameters", func() {
			req := httptest.NewRequest(http.MethodDelete, "/rank", nil)
			req.Header.Set("X-User-ID", "user-a")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When deleting a dish the user never ranked", func() {
			req := httptest.NewRequest(http.MethodDelete, "/rank?dish_id=ghost", nil)
			req.Header.Set("X-User-ID", "user-a")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestAPI_ReadEndpoints(t *testing.T) {
	Convey("Given rankings from two users", t, func() {
		mux, _ := newTestMux()
		So(doRank(mux, "user-a", "ramen", 1, "").Code, ShouldEqual, http.StatusOK)
		So(doRank(mux, "user-b", "tacos", 1, "").Code, ShouldEqual, http.StatusOK)
		So(doRank(mux, "user-b", "ramen", 2, "").Code, ShouldEqual, http.StatusOK)

		Convey("When listing user-b's rankings", func() {
			rec := doGet(mux, "user-b", "/rankings")

			Convey("Then the list is rank ascending and scoped to the caller", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Rankings []model.Ranking `json:"rankings"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Rankings, ShouldHaveLength, 2)
				So(resp.Rankings[0].DishID, ShouldEqual, "tacos")
				So(resp.Rankings[1].DishID, ShouldEqual, "ramen")
			})
		})

		Convey("When fetching the aggregate for a shared dish", func() {
			rec := doGet(mux, "", "/dish/ramen/aggregate")

			Convey("Then the mean of current ranks comes back", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var agg model.DishAggregate
				So(json.Unmarshal(rec.Body.Bytes(), &agg), ShouldBeNil)
				So(agg.RankCount, ShouldEqual, 2)
				So(agg.AverageRank, ShouldEqual, 1.5)
			})
		})

		Convey("When fetching just the trend badge", func() {
			rec := doGet(mux, "", "/dish/ramen/trend")

			So(rec.Code, ShouldEqual, http.StatusOK)
			var resp struct {
				Trend model.Trend `json:"trend"`
			}
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Trend, ShouldNotBeEmpty)
		})

		Convey("When fetching an unranked dish aggregate", func() {
			rec := doGet(mux, "", "/dish/ghost/aggregate")

			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When fetching history for a dish", func() {
			rec := doGet(mux, "user-b", "/rankings/ramen/history")

			Convey("Then the ledger entries come back newest first", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Entries []model.RankHistoryEntry `json:"entries"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Entries, ShouldHaveLength, 1)
			})
		})

		Convey("When using an unknown scope", func() {
			rec := doGet(mux, "user-a", "/rankings?scope=desserts")

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAPI_OperationalEndpoints(t *testing.T) {
	Convey("Given the API server", t, func() {
		mux, _ := newTestMux()

		Convey("Then /healthz reports ok", func() {
			rec := doGet(mux, "", "/healthz")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "ok")
		})

		Convey("Then /stats returns the provider payload", func() {
			rec := doGet(mux, "", "/stats")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "started")
		})

		Convey("Then /metrics serves the Prometheus registry", func() {
			rec := doGet(mux, "", "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})
}
