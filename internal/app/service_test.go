package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dishlist/onebest/internal/adapters/repository"
	service "github.com/dishlist/onebest/internal/app"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/internal/domain/ranking"
	"github.com/dishlist/onebest/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func startMemoryService(opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithMemoryStore(),
		service.WithWorkerCount(2),
	}, opts...)
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

// waitForAggregate polls until the aggregate exists or the deadline passes.
// Recomputes run asynchronously behind the queue.
func waitForAggregate(svc *service.Service, dishID string, scope model.Scope) (model.DishAggregate, error) {
	deadline := time.Now().Add(3 * time.Second)
	for {
		agg, err := svc.DishAggregate(context.Background(), dishID, scope)
		if err == nil || time.Now().After(deadline) {
			return agg, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Scopes(), ShouldResemble, []model.Scope{model.ScopeAll})
		})
	})

	Convey("Given a memory-backed service", t, func() {
		svc := startMemoryService()
		defer svc.Stop()

		Convey("Then it reports itself started", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
		})

		Convey("When started a second time", func() {
			Convey("Then the call is a no-op", func() {
				So(svc.Start(context.Background()), ShouldBeNil)
			})
		})

		Convey("When stopped", func() {
			svc.Stop()

			Convey("Then it reports itself stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given a sqlite-backed service", t, func() {
		dir := t.TempDir()
		svc := service.New(
			service.WithStorePath(filepath.Join(dir, "onebest.db")),
			service.WithWorkerCount(1),
		)
		defer svc.Stop()

		Convey("When starting and ranking a dish", func() {
			So(svc.Start(context.Background()), ShouldBeNil)

			rows, err := svc.RankDish(context.Background(), "user-a", model.ScopeAll, "ramen", 1, "")

			Convey("Then the mutation lands in the store", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
			})
		})
	})
}

func TestService_RankAndAggregate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service", t, func() {
		svc := startMemoryService()
		defer svc.Stop()

		Convey("When two users rank the same dish", func() {
			_, err := svc.RankDish(ctx, "user-a", model.ScopeAll, "ramen", 1, "")
			So(err, ShouldBeNil)
			_, err = svc.RankDish(ctx, "user-b", model.ScopeAll, "tacos", 1, "")
			So(err, ShouldBeNil)
			_, err = svc.RankDish(ctx, "user-b", model.ScopeAll, "ramen", 2, "")
			So(err, ShouldBeNil)

			Convey("Then the aggregate converges to the mean of current ranks", func() {
				agg, err := waitForAggregate(svc, "ramen", model.ScopeAll)
				So(err, ShouldBeNil)
				So(agg.RankCount, ShouldEqual, 2)
				So(agg.AverageRank, ShouldEqual, 1.5)
			})

			Convey("And the trend endpoint reflects the stored badge", func() {
				_, err := waitForAggregate(svc, "ramen", model.ScopeAll)
				So(err, ShouldBeNil)
				trend, err := svc.DishTrend(ctx, "ramen", model.ScopeAll)
				So(err, ShouldBeNil)
				So(trend, ShouldBeIn, model.TrendNew, model.TrendNone, model.TrendUp, model.TrendDown)
			})
		})

		Convey("When a dish has never been ranked", func() {
			_, err := svc.DishAggregate(ctx, "ghost", model.ScopeAll)

			Convey("Then the lookup reports not found", func() {
				So(err, ShouldWrap, repository.ErrNotFound)
			})
		})
	})
}

func TestService_RemoveKeepsAggregate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a dish ranked by one user", t, func() {
		svc := startMemoryService()
		defer svc.Stop()

		_, err := svc.RankDish(ctx, "user-a", model.ScopeAll, "ramen", 1, "")
		So(err, ShouldBeNil)
		_, err = waitForAggregate(svc, "ramen", model.ScopeAll)
		So(err, ShouldBeNil)

		Convey("When the last ranking is removed", func() {
			_, err := svc.RemoveDish(ctx, "user-a", model.ScopeAll, "ramen")
			So(err, ShouldBeNil)

			Convey("Then the aggregate stays retrievable with a zero count", func() {
				deadline := time.Now().Add(3 * time.Second)
				var agg model.DishAggregate
				for {
					agg, err = svc.DishAggregate(ctx, "ramen", model.ScopeAll)
					if (err == nil && agg.RankCount == 0) || time.Now().After(deadline) {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(err, ShouldBeNil)
				So(agg.RankCount, ShouldEqual, 0)
			})
		})
	})
}

func TestService_HistoryAndScopes(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with an extra scope", t, func() {
		svc := startMemoryService(service.WithScopes([]model.Scope{model.ScopeAll, "noodles"}))
		defer svc.Stop()

		_, err := svc.RankDish(ctx, "user-a", "noodles", "ramen", 1, "slurp")
		So(err, ShouldBeNil)

		Convey("When reading history for the scoped dish", func() {
			entries, err := svc.History(ctx, "user-a", "noodles", "ramen")

			Convey("Then the ledger holds the insert", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
				rank, ok := entries[0].Rank.Rank()
				So(ok, ShouldBeTrue)
				So(rank, ShouldEqual, 1)
			})
		})

		Convey("When touching an unknown scope", func() {
			_, errRead := svc.Rankings(ctx, "user-a", "desserts")
			_, errAgg := svc.DishAggregate(ctx, "ramen", "desserts")

			Convey("Then both reads are rejected", func() {
				So(errRead, ShouldWrap, ranking.ErrInvalidScope)
				So(errAgg, ShouldWrap, ranking.ErrInvalidScope)
			})
		})
	})
}
