// Package kmutex provides a mutex keyed by string, so that operations on
// distinct keys proceed in parallel while operations on the same key are
// serialized.
package kmutex

import (
	"context"
	"sync"
)

// Kmutex hands out one lock slot per key. Idle keys hold no memory: the
// entry is dropped once the last holder releases it.
type Kmutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// New creates an empty keyed mutex.
func New() *Kmutex {
	return &Kmutex{locks: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is available or ctx is
// done. It returns ctx.Err() without holding the lock when the wait is
// canceled.
func (k *Kmutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, e)
		return ctx.Err()
	}
}

// TryLock acquires the lock for key without blocking. Returns false when the
// key is already held.
func (k *Kmutex) TryLock(key string) bool {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return true
	default:
		k.release(key, e)
		return false
	}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a
// programming error and panics, matching sync.Mutex semantics.
func (k *Kmutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		panic("kmutex: unlock of unlocked key " + key)
	}

	select {
	case <-e.ch:
	default:
		panic("kmutex: unlock of unlocked key " + key)
	}
	k.release(key, e)
}

func (k *Kmutex) release(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
