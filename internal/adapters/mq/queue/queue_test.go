package queue

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/dishlist/onebest/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	job := model.RecomputeJob{DishID: "ramen", Scope: model.ScopeAll}
	if !q.Enqueue(ctx, job) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	jobChan := q.Dequeue(ctx)
	got := <-jobChan
	if got.DishID != "ramen" {
		t.Errorf("expected ramen, got %q", got.DishID)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		job := model.RecomputeJob{DishID: "dish-" + strconv.Itoa(i), Scope: model.ScopeAll}
		if !q.Enqueue(ctx, job) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}

	if q.Enqueue(ctx, model.RecomputeJob{DishID: "overflow", Scope: model.ScopeAll}) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, model.RecomputeJob{DishID: "ramen", Scope: model.ScopeAll})

	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}

	if q.Enqueue(ctx, model.RecomputeJob{DishID: "tacos", Scope: model.ScopeAll}) {
		t.Error("expected enqueue to fail after close")
	}

	// Buffered jobs drain, then the channel closes.
	jobChan := q.Dequeue(ctx)
	if got, ok := <-jobChan; !ok || got.DishID != "ramen" {
		t.Errorf("expected buffered job, got %v ok=%v", got, ok)
	}
	if _, ok := <-jobChan; ok {
		t.Error("expected dequeue channel to close after drain")
	}
}

func TestInMemoryQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				job := model.RecomputeJob{
					DishID: "dish-" + strconv.Itoa(worker) + "-" + strconv.Itoa(j),
					Scope:  model.ScopeAll,
				}
				if !q.Enqueue(ctx, job) {
					t.Errorf("enqueue failed for worker %d job %d", worker, j)
				}
			}
		}(i)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 1000 {
		t.Errorf("expected 1000 queued jobs, got %d", l)
	}
}
