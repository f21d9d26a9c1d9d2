// Package authqueue implements the admission pipeline: a ManagedList
// of pending connections (AutheableEntry) whose manage() pass tries to
// receive and authenticate one AUTH message per entry per pass,
// handing authenticated connections off to a node registry and
// dropping everything else.
package authqueue

import (
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lodecast/masterd/internal/discovery"
	"github.com/lodecast/masterd/internal/logging"
	"github.com/lodecast/masterd/internal/managedlist"
	"github.com/lodecast/masterd/internal/transport"
	"github.com/lodecast/masterd/internal/wire"
)

// Closer is implemented by connections that own an OS resource the
// queue must release once an entry is compacted out, mirroring the
// original's "an abandoned entry's fd is closed when the overseer
// compacts it out".
type Closer interface {
	Close() error
}

// AuthQueue is the ManagedList[*AutheableEntry] specialization that
// runs the admission pipeline described in §4.D.
type AuthQueue struct {
	cfg      Config
	authn    Authenticator
	registry *discovery.NodeRegistry
	metrics  *Metrics

	list    *managedlist.ManagedList[*AutheableEntry]
	limiter *addrLimiter
	nextID  atomic.Uint64
}

// New constructs a queue. registry receives every successfully
// authenticated connection; metrics may be nil if the caller doesn't
// want counters.
func New(cfg Config, authn Authenticator, registry *discovery.NodeRegistry, metrics *Metrics) *AuthQueue {
	if metrics == nil {
		metrics = &Metrics{}
	}
	q := &AuthQueue{cfg: cfg, authn: authn, registry: registry, metrics: metrics}
	q.list = managedlist.New[*AutheableEntry](q, cfg.MaxThreads)
	q.limiter = newAddrLimiter(cfg.MaxPerAddr)
	return q
}

// Insert admits a new pending connection into the queue unconditionally,
// blocking only on the list's structural lock, per §6.
func (q *AuthQueue) Insert(e *AutheableEntry) *managedlist.Entry[*AutheableEntry] {
	return q.list.Insert(e)
}

// TryInsert is Insert guarded by the per-address admission cap: it
// refuses a new entry once e.Addr already holds cfg.MaxPerAddr pending
// entries, so one remote address can't monopolize the queue. The
// reserved slot is released once the entry is compacted out.
func (q *AuthQueue) TryInsert(e *AutheableEntry) (*managedlist.Entry[*AutheableEntry], bool) {
	if !q.limiter.Acquire(e.Addr) {
		q.metrics.incDenied()
		return nil, false
	}
	return q.list.Insert(e), true
}

// Len reports the current queue depth, live or not yet compacted.
func (q *AuthQueue) Len() int { return q.list.Len() }

// Workers reports the current live worker count.
func (q *AuthQueue) Workers() int { return q.list.Workers() }

// Metrics returns the queue's counters plus the current queue depth.
func (q *AuthQueue) Metrics() Snapshot {
	s := q.metrics.Snapshot()
	s.Depth = uint64(q.list.Len())
	return s
}

// Init starts the overseer on cfg.OverseerPeriod.
func (q *AuthQueue) Init() { q.list.Init(q.cfg.OverseerPeriod) }

// Spin runs one synchronous manage pass plus a conditional compaction,
// for callers driving the queue themselves instead of through Init's
// async worker pool (tests, or a single-goroutine embedder).
func (q *AuthQueue) Spin() { q.list.Spin() }

// Oversee runs one overseer pass (compaction plus elastic rescaling)
// against the live async worker pool started by Init.
func (q *AuthQueue) Oversee() { q.list.Oversee() }

// DeletionHeuristicForTest exposes the compaction trigger decision for
// tests that want to check it in isolation from a full Spin/Oversee
// pass.
func (q *AuthQueue) DeletionHeuristicForTest() bool {
	return q.DeletionHeuristic(q.list)
}

// Shutdown stops the overseer and drains every worker, then closes
// every entry still sitting in the queue that was never admitted.
func (q *AuthQueue) Shutdown() {
	q.list.Shutdown()
	q.list.Range(func(e *managedlist.Entry[*AutheableEntry]) bool {
		e.Lock()
		entry := e.Value()
		if entry != nil && !entry.Admitted {
			closeEntry(entry)
		}
		e.Unlock()
		return true
	})
}

// Manage is the §4.D.1 per-entry admission pass, invoked once per
// worker iteration over the whole live list.
func (q *AuthQueue) Manage(l *managedlist.ManagedList[*AutheableEntry]) {
	l.Range(func(e *managedlist.Entry[*AutheableEntry]) bool {
		if !e.Active() {
			return true
		}
		if !e.TryLock() {
			return true
		}
		q.manageEntry(e)
		e.Unlock()
		return true
	})
}

func (q *AuthQueue) manageEntry(e *managedlist.Entry[*AutheableEntry]) {
	entry := e.Value()

	outcome, msg, err := entry.Transport.RecvFor(q.cfg.IteratorBudget)
	if err != nil {
		var protoErr *wire.ProtocolError
		if errors.As(err, &protoErr) {
			q.metrics.incProtocolError()
		}
		logging.RateLimitedf(entry.Addr, time.Second, "authqueue: recv error from %s: %v", entry.Addr, err)
		e.SetActive(false)
		return
	}

	switch outcome {
	case transport.Pending:
		if time.Now().Before(entry.Deadline) {
			return
		}
		q.metrics.incExpired()
		e.SetActive(false)
		return
	case transport.Ready:
		auth, ok := msg.(wire.AuthMsg)
		if !ok {
			e.SetActive(false)
			return
		}
		if q.authn.Authenticate(auth) {
			q.admit(entry, auth)
			q.metrics.incAdmitted()
		} else {
			q.metrics.incDenied()
		}
		e.SetActive(false)
	}
}

// admit transfers ownership of entry's connection to a ConnectedNode
// and hands it to the registry. Session only carries the AUTH
// identifier for the session-id variant — the password variant's
// identifier is the shared secret itself, which has no business
// living on in a long-lived record the directory service reads later.
func (q *AuthQueue) admit(entry *AutheableEntry, auth wire.AuthMsg) {
	if q.registry == nil {
		return
	}
	var session []byte
	if auth.IsSessionID {
		session = append([]byte(nil), auth.Identifier...)
	}
	node := discovery.ConnectedNode{
		ID:        entry.Addr + "#" + strconv.FormatUint(q.nextID.Add(1), 10),
		Addr:      entry.Addr,
		Session:   session,
		Transport: entry.Transport,
	}
	q.registry.Put(node)
	entry.Admitted = true
	entry.Conn = nil
}

// DeletionHeuristic scans at most cfg.Cutoff entries looking for
// inactive ones and reports true as soon as it has seen that many —
// it never scans the whole list, per §4.D.2.
func (q *AuthQueue) DeletionHeuristic(l *managedlist.ManagedList[*AutheableEntry]) bool {
	if q.cfg.Cutoff <= 0 {
		return false
	}
	seen := 0
	inactive := 0
	l.Range(func(e *managedlist.Entry[*AutheableEntry]) bool {
		seen++
		if !e.Active() {
			inactive++
		}
		return seen < q.cfg.Cutoff
	})
	trigger := inactive >= q.cfg.Cutoff
	if trigger {
		q.metrics.incCompaction()
	}
	return trigger
}

// ThreadHeuristic scales worker count with queue depth: more entries
// per configured IteratorBudget slice implies more workers are needed
// to keep per-entry service latency bounded, clamped by the caller to
// MaxThreads. The original stubs this to 0; per the redesign note a
// real function of queue depth replaces it.
func (q *AuthQueue) ThreadHeuristic(current int) int {
	depth := q.list.Len()
	if depth == 0 {
		return 0
	}
	entriesPerWorker := entriesPerWorkerFor(q.cfg.IteratorBudget)
	desired := int(math.Ceil(float64(depth) / float64(entriesPerWorker)))
	if desired < 1 {
		desired = 1
	}
	return desired
}

// entriesPerWorkerFor ties the scaling granularity to how long a
// single manage() pass can block on one entry: a slower iterator
// budget means each worker gets through fewer entries per second, so
// fewer entries should be assigned to each one.
func entriesPerWorkerFor(budget time.Duration) int {
	const baseline = 100 * time.Millisecond
	if budget <= 0 {
		budget = baseline
	}
	n := int(baseline * 4 / budget)
	if n < 1 {
		n = 1
	}
	return n
}

// DeletionPredicate removes inactive entries. A denied or expired
// entry's connection is closed since it's otherwise abandoned; an
// admitted entry's connection has already moved to a ConnectedNode and
// must not be touched here.
func (q *AuthQueue) DeletionPredicate(e *managedlist.Entry[*AutheableEntry]) bool {
	if e.Active() {
		return false
	}
	entry := e.Value()
	if entry != nil && !entry.Admitted {
		closeEntry(entry)
	}
	if entry != nil {
		q.limiter.Release(entry.Addr)
	}
	return true
}

func closeEntry(entry *AutheableEntry) {
	if entry == nil || entry.Conn == nil {
		return
	}
	if c, ok := entry.Conn.(Closer); ok {
		c.Close()
	}
}
