package authqueue

import "sync/atomic"

// Metrics accumulates admission counters, in the same
// atomic-counter-plus-snapshot shape used elsewhere in this codebase.
type Metrics struct {
	admitted      atomic.Uint64
	denied        atomic.Uint64
	expired       atomic.Uint64
	protocolError atomic.Uint64
	compactions   atomic.Uint64
}

// Snapshot is a point-in-time read of every counter, plus the current
// queue depth gauge. Depth isn't tracked by Metrics itself — it's a
// property of the live list, not an accumulated count — so callers
// populate it from the queue at snapshot time.
type Snapshot struct {
	Admitted      uint64
	Denied        uint64
	Expired       uint64
	ProtocolError uint64
	Compactions   uint64
	Depth         uint64
}

func (m *Metrics) incAdmitted()      { m.admitted.Add(1) }
func (m *Metrics) incDenied()        { m.denied.Add(1) }
func (m *Metrics) incExpired()       { m.expired.Add(1) }
func (m *Metrics) incProtocolError() { m.protocolError.Add(1) }
func (m *Metrics) incCompaction()    { m.compactions.Add(1) }

// Snapshot reads every counter. Safe for concurrent use with the
// increments above.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Admitted:      m.admitted.Load(),
		Denied:        m.denied.Load(),
		Expired:       m.expired.Load(),
		ProtocolError: m.protocolError.Load(),
		Compactions:   m.compactions.Load(),
	}
}
