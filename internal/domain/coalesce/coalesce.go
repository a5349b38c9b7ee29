// Package coalesce tracks recompute jobs that are already pending so a
// burst of mutations against the same dish folds into a single
// recomputation.
package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coalescer records pending job keys. A key stays recorded from enqueue
// until the worker picks the job up, at which point it is unrecorded so
// later mutations can schedule a fresh pass.
type Coalescer interface {
	// SeenAndRecord atomically checks if key is pending and records it if
	// not. Returns true if the key was already pending.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord clears a pending key. Called by the worker before it
	// recomputes, and by the scheduler when an enqueue fails.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type inMemoryCoalescer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	size    atomic.Int64
}

// New creates an empty in-memory coalescer.
func New() Coalescer {
	return &inMemoryCoalescer{pending: make(map[string]struct{})}
}

func (c *inMemoryCoalescer) SeenAndRecord(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		return true
	}
	c.pending[key] = struct{}{}
	c.size.Add(1)
	return false
}

func (c *inMemoryCoalescer) Unrecord(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		delete(c.pending, key)
		c.size.Add(-1)
	}
}

func (c *inMemoryCoalescer) Size() int64 {
	return c.size.Load()
}
