package managedlist

import (
	"sync"
	"sync/atomic"
)

// Entry wraps a list element with the per-entry lock and active flag
// described in spec.md §3: at most one worker may hold the lock at a
// time, and an inactive entry is never mutated again — workers skip
// past it until the overseer compacts it out. active is an
// atomic.Bool rather than a plain bool guarded by mu: manage()'s first
// check ("is this entry even active?") happens before the entry lock
// is taken, exactly like the original's unguarded `it->active` peek,
// so it needs its own synchronization independent of mu.
type Entry[T any] struct {
	mu     sync.Mutex
	value  T
	active atomic.Bool
}

// Value returns the wrapped item. Callers must hold the entry's lock
// (TryLock) before mutating anything reachable through it.
func (e *Entry[T]) Value() T {
	return e.value
}

// TryLock acquires the per-entry lock without blocking, mirroring the
// original's std::mutex::try_lock() used inside manage().
func (e *Entry[T]) TryLock() bool {
	return e.mu.TryLock()
}

// Lock blocks until the per-entry lock is acquired. Only the overseer
// should need this, and only outside a barrier cycle (during a
// compaction pass no worker holds any entry lock, so Lock never
// contends there).
func (e *Entry[T]) Lock() {
	e.mu.Lock()
}

func (e *Entry[T]) Unlock() {
	e.mu.Unlock()
}

// Active reports whether the entry is still live.
func (e *Entry[T]) Active() bool {
	return e.active.Load()
}

// SetActive flips the entry's active flag. Callers must hold the
// entry's lock.
func (e *Entry[T]) SetActive(active bool) {
	e.active.Store(active)
}
