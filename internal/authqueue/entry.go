package authqueue

import (
	"time"

	"github.com/lodecast/masterd/internal/transport"
)

// AutheableEntry is one pending connection waiting to present an AUTH
// message. The managedlist.Entry wrapping this already supplies the
// per-entry lock and active flag, so AutheableEntry itself holds only
// the fields manage() needs once that lock is held.
type AutheableEntry struct {
	Transport *transport.FramedTransport
	Conn      transport.Conn
	Addr      string
	Deadline  time.Time

	// Admitted is set once authentication succeeds and the connection's
	// ownership has moved to a ConnectedNode. A compaction pass must not
	// close an admitted entry's connection out from under its new owner.
	Admitted bool
}

// NewAutheableEntry wraps conn in a FramedTransport and sets its
// deadline to now+gracePeriod, as the Acceptor does on insert.
func NewAutheableEntry(conn transport.Conn, addr string, gracePeriod time.Duration) *AutheableEntry {
	return &AutheableEntry{
		Transport: transport.New(conn),
		Conn:      conn,
		Addr:      addr,
		Deadline:  time.Now().Add(gracePeriod),
	}
}
