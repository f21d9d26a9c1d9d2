package authqueue

import "time"

// Config collects the five tunables of the admission pipeline. There
// is no loader: whatever surrounds this package (CLI flags, a config
// file, hardcoded values) builds one of these and passes it to New.
type Config struct {
	// Cutoff is the inactive-entry threshold that triggers compaction.
	Cutoff int

	// IteratorBudget bounds how long a single manage() pass may block
	// receiving on one entry.
	IteratorBudget time.Duration

	// GracePeriod is the default deadline offset for new entries. The
	// queue itself never reads it: the caller passes it to
	// NewAutheableEntry when building an entry to insert.
	GracePeriod time.Duration

	// MaxThreads upper-bounds the worker pool.
	MaxThreads int

	// OverseerPeriod is the sleep between oversee() passes.
	OverseerPeriod time.Duration

	// MaxPerAddr caps how many pending entries TryInsert admits for a
	// single remote address at once. Zero disables the cap.
	MaxPerAddr int
}

// DefaultConfig returns the defaults from the tunables table.
func DefaultConfig() Config {
	return Config{
		Cutoff:         5,
		IteratorBudget: 100 * time.Millisecond,
		GracePeriod:    20 * time.Second,
		MaxThreads:     3,
		OverseerPeriod: 200 * time.Millisecond,
		MaxPerAddr:     0,
	}
}
