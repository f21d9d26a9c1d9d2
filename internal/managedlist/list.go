// Package managedlist implements the generic concurrent collection
// described in spec.md §4.C: workers scan entries and flip a marker
// bit to signal removal, a single overseer periodically quiesces every
// worker through a barrier and compacts the marked entries out, then
// rescales the worker pool.
//
// The original (original_source/src/common/managedList.cpp) built the
// await/waiting/continue/stop rendezvous out of four counting
// semaphores plus two mutexes. Per the §9 Design Note this is
// translated into Go's native "rendezvous N parties" idiom: counted
// handoffs over unbuffered channels. Nothing in the example pack
// reaches for an external barrier library for this, so there is no
// third-party gap here — stdlib sync/channels is the idiomatic tool.
package managedlist

import (
	"container/list"
	"sync"
	"time"
)

// ManagedList is the generic concurrent collection. Zero value is not
// usable; construct with New.
type ManagedList[T any] struct {
	policy     Policy[T]
	maxThreads int

	// listMu guards structural changes (insert, compaction removal).
	// Workers read the list via Range while only holding the read
	// side, which many workers may hold concurrently — matching
	// spec.md §5's "workers read without a lock" in spirit while
	// staying race-detector clean for Go's memory model.
	listMu sync.RWMutex
	elems  *list.List

	// threadMu guards n (the live worker census) and, together with
	// listMu, the compaction barrier. Lock order is always
	// listMu -> threadMu -> entry lock, per spec.md §5.
	threadMu sync.Mutex
	n        int
	workers  sync.WaitGroup

	awaitCh    chan struct{}
	waitingCh  chan struct{}
	continueCh chan struct{}
	stopCh     chan struct{}

	overseerStop chan struct{}
	overseerDone chan struct{}
}

// New constructs a ManagedList driven by policy, with at most
// maxThreads concurrent workers in async mode.
func New[T any](policy Policy[T], maxThreads int) *ManagedList[T] {
	return &ManagedList[T]{
		policy:     policy,
		maxThreads: maxThreads,
		elems:      list.New(),
		awaitCh:    make(chan struct{}),
		waitingCh:  make(chan struct{}),
		continueCh: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Insert appends x under the list lock and returns its Entry handle.
func (l *ManagedList[T]) Insert(x T) *Entry[T] {
	e := &Entry[T]{value: x}
	e.active.Store(true)
	l.listMu.Lock()
	l.elems.PushBack(e)
	l.listMu.Unlock()
	return e
}

// Len returns the current number of entries, live or not.
func (l *ManagedList[T]) Len() int {
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	return l.elems.Len()
}

// Range visits every entry in iteration order, stopping early if fn
// returns false. fn decides for itself whether an entry is worth
// acting on (active, lockable, ...); Range never mutates structure.
func (l *ManagedList[T]) Range(fn func(e *Entry[T]) bool) {
	l.listMu.RLock()
	defer l.listMu.RUnlock()
	for el := l.elems.Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(*Entry[T])) {
			return
		}
	}
}

// Workers reports the current live worker count.
func (l *ManagedList[T]) Workers() int {
	l.threadMu.Lock()
	defer l.threadMu.Unlock()
	return l.n
}

// Spin runs the collection synchronously: one manage() pass, then a
// compaction attempt if the deletion heuristic agrees. Intended for
// single-goroutine callers (tests, or a process that would rather
// drive the list itself than pay for a worker pool) — it assumes no
// concurrent async workers are also running against the same list.
func (l *ManagedList[T]) Spin() {
	l.policy.Manage(l)
	if l.policy.DeletionHeuristic(l) {
		l.compactUnguarded()
	}
}

// compactUnguarded removes matching entries while only holding the
// structural lock — correct only when the caller guarantees no
// concurrent workers (see Spin's doc comment).
func (l *ManagedList[T]) compactUnguarded() {
	l.listMu.Lock()
	defer l.listMu.Unlock()
	l.removeMatchingLocked()
}

func (l *ManagedList[T]) removeMatchingLocked() {
	var next *list.Element
	for el := l.elems.Front(); el != nil; el = next {
		next = el.Next()
		entry := el.Value.(*Entry[T])
		if l.policy.DeletionPredicate(entry) {
			l.elems.Remove(el)
		}
	}
}

// Init starts the overseer goroutine, which calls Oversee every
// period until Shutdown is called.
func (l *ManagedList[T]) Init(period time.Duration) {
	l.overseerStop = make(chan struct{})
	l.overseerDone = make(chan struct{})
	go func() {
		defer close(l.overseerDone)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-l.overseerStop:
				return
			case <-ticker.C:
				l.Oversee()
			}
		}
	}()
}

// Oversee runs one overseer pass: a compaction if the deletion
// heuristic fires, then elastic rescaling per the thread heuristic.
func (l *ManagedList[T]) Oversee() {
	if l.policy.DeletionHeuristic(l) {
		l.compact()
	}

	current := l.Workers()
	desired := l.policy.ThreadHeuristic(current)
	if desired > l.maxThreads {
		desired = l.maxThreads
	}
	if desired < 0 {
		desired = 0
	}

	switch delta := desired - current; {
	case delta > 0:
		for i := 0; i < delta; i++ {
			l.workers.Add(1)
			go l.iterate()
		}
	case delta < 0:
		for i := 0; i < -delta; i++ {
			l.stopCh <- struct{}{}
		}
	}
}

// compact is the barrier described in spec.md §4.C.2: quiesce every
// live worker, remove matching entries while none of them can be
// mid-mutation on any entry, then release them.
func (l *ManagedList[T]) compact() {
	l.listMu.Lock()
	l.threadMu.Lock()

	n := l.n
	for i := 0; i < n; i++ {
		l.awaitCh <- struct{}{}
	}
	for i := 0; i < n; i++ {
		<-l.waitingCh
	}

	l.removeMatchingLocked()

	for i := 0; i < n; i++ {
		l.continueCh <- struct{}{}
	}

	l.threadMu.Unlock()
	l.listMu.Unlock()
}

// iterate is the worker loop of spec.md §4.C.1.
func (l *ManagedList[T]) iterate() {
	defer l.workers.Done()

	l.threadMu.Lock()
	l.n++
	l.threadMu.Unlock()

	for {
		select {
		case <-l.stopCh:
			l.exitWorker()
			return
		case <-l.awaitCh:
			l.waitingCh <- struct{}{}
			<-l.continueCh
		default:
			l.policy.Manage(l)
		}
	}
}

// exitWorker implements the §4.C.1.3 / §9 fix for the original's
// worker-exit race: if the overseer is mid-compaction (threadMu is
// held and an await is offered), this worker must still participate
// in that barrier round — the overseer's snapshot of n already counts
// it — before it may decrement n and leave. threadMu is also held
// briefly by Workers and by other workers entering or leaving, so a
// failed TryLock with no await on offer is simply retried.
func (l *ManagedList[T]) exitWorker() {
	for {
		if l.threadMu.TryLock() {
			l.n--
			l.threadMu.Unlock()
			return
		}
		select {
		case <-l.awaitCh:
			l.waitingCh <- struct{}{}
			<-l.continueCh
		case <-time.After(time.Millisecond):
		}
	}
}

// Shutdown stops the overseer, signals every live worker to stop, and
// waits for them all to exit before returning.
func (l *ManagedList[T]) Shutdown() {
	if l.overseerStop != nil {
		close(l.overseerStop)
		<-l.overseerDone
		l.overseerStop = nil
	}

	n := l.Workers()
	for i := 0; i < n; i++ {
		l.stopCh <- struct{}{}
	}
	l.workers.Wait()
}
