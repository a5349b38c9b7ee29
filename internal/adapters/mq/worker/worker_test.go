package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/dishlist/onebest/internal/adapters/mq/worker"
	"github.com/dishlist/onebest/internal/domain/model"
	logging "github.com/dishlist/onebest/pkg/logger"
)

func init() {
	if err := logging.Init(); err != nil {
		panic(err)
	}
}

// Mock implementations for testing.
type mockQueue struct {
	jobChan chan worker.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobChan: make(chan worker.Job, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan worker.Job {
	return mq.jobChan
}

func (mq *mockQueue) Close() error {
	close(mq.jobChan)
	return nil
}

func (mq *mockQueue) addJob(job worker.Job) {
	mq.jobChan <- job
}

type mockRecomputer struct {
	mu       sync.Mutex
	calls    []string
	errByKey map[string]error
	notify   chan string
}

func newMockRecomputer() *mockRecomputer {
	return &mockRecomputer{
		errByKey: make(map[string]error),
		notify:   make(chan string, 64),
	}
}

func (mr *mockRecomputer) Recompute(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error) {
	key := string(scope) + "/" + dishID
	mr.mu.Lock()
	mr.calls = append(mr.calls, key)
	err := mr.errByKey[key]
	mr.mu.Unlock()

	mr.notify <- key
	if err != nil {
		return model.DishAggregate{}, err
	}
	return model.DishAggregate{DishID: dishID, Scope: scope, AverageRank: 1, RankCount: 1}, nil
}

func (mr *mockRecomputer) setError(key string, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.errByKey[key] = err
}

func (mr *mockRecomputer) callCount() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return len(mr.calls)
}

type mockCoalescer struct {
	mu       sync.Mutex
	released []string
}

func (mc *mockCoalescer) Unrecord(ctx context.Context, key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.released = append(mc.released, key)
}

func (mc *mockCoalescer) releasedKeys() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]string, len(mc.released))
	copy(out, mc.released)
	return out
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("recomputed %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for recompute of %q", want)
	}
}

func TestWorkerProcessesJobs(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mq := newMockQueue()
		mr := newMockRecomputer()
		mc := &mockCoalescer{}
		w := worker.NewInMemoryWorker(mq, mr, mc, worker.WithName("test-worker"))
		go w.Run(ctx)

		convey.Convey("When a job arrives on the queue", func() {
			mq.addJob(worker.Job{DishID: "ramen", Scope: model.ScopeAll})
			waitFor(t, mr.notify, "all/ramen")

			convey.Convey("Then the aggregate is recomputed and the key released", func() {
				convey.So(mr.callCount(), convey.ShouldEqual, 1)
				convey.So(mc.releasedKeys(), convey.ShouldResemble, []string{"all/ramen"})
			})
		})

		convey.Convey("When a recompute fails", func() {
			mr.setError("all/tacos", errors.New("store unavailable"))
			mq.addJob(worker.Job{DishID: "tacos", Scope: model.ScopeAll})
			waitFor(t, mr.notify, "all/tacos")

			convey.Convey("Then the worker keeps running and processes the next job", func() {
				mq.addJob(worker.Job{DishID: "pho", Scope: model.ScopeAll})
				waitFor(t, mr.notify, "all/pho")
				convey.So(mr.callCount(), convey.ShouldEqual, 2)
			})
		})
	})
}

func TestWorkerShutdown(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		ctx := context.Background()
		mq := newMockQueue()
		mr := newMockRecomputer()
		w := worker.NewInMemoryWorker(mq, mr, &mockCoalescer{})
		go w.Run(ctx)

		convey.Convey("When Shutdown is called", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			err := w.Shutdown(shutdownCtx)

			convey.Convey("Then it stops cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerStopsOnClosedQueue(t *testing.T) {
	convey.Convey("Given a worker reading a queue that closes", t, func() {
		ctx := context.Background()
		mq := newMockQueue()
		mr := newMockRecomputer()
		w := worker.NewInMemoryWorker(mq, mr, &mockCoalescer{})
		go w.Run(ctx)

		mq.addJob(worker.Job{DishID: "ramen", Scope: model.ScopeAll})
		waitFor(t, mr.notify, "all/ramen")
		convey.So(mq.Close(), convey.ShouldBeNil)

		convey.Convey("Then Shutdown returns once the drain finishes", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})
	})
}

func TestPoolLifecycle(t *testing.T) {
	convey.Convey("Given a pool of three workers", t, func() {
		ctx := context.Background()
		mq := newMockQueue()
		mr := newMockRecomputer()
		mc := &mockCoalescer{}
		pool := worker.NewPool(3, mq, mr, mc)

		convey.So(pool.Size(), convey.ShouldEqual, 3)
		pool.Start(ctx)

		convey.Convey("When jobs are enqueued", func() {
			for _, d := range []string{"ramen", "tacos", "pho"} {
				mq.addJob(worker.Job{DishID: d, Scope: model.ScopeAll})
			}
			for i := 0; i < 3; i++ {
				<-mr.notify
			}

			convey.Convey("Then every job is recomputed exactly once", func() {
				convey.So(mr.callCount(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the pool shuts down", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			convey.Convey("Then shutdown completes without error", func() {
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPoolDefaultSize(t *testing.T) {
	convey.Convey("Given a pool created with size zero", t, func() {
		pool := worker.NewPool(0, newMockQueue(), newMockRecomputer(), &mockCoalescer{})

		convey.Convey("Then it falls back to a CPU-scaled worker count", func() {
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}
