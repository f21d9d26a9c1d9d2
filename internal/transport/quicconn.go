package transport

import (
	"time"

	quic "github.com/quic-go/quic-go"
)

// QUICConn adapts a quic.Stream to the Conn interface so
// FramedTransport can drive admission over a QUIC connection exactly
// as it does over plain TCP — the state machine in RecvFor only ever
// needs Read/Write/SetReadDeadline, which quic.Stream already
// implements.
type QUICConn struct {
	stream quic.Stream
}

// NewQUICConn wraps an already-accepted or already-opened stream.
func NewQUICConn(stream quic.Stream) *QUICConn {
	return &QUICConn{stream: stream}
}

func (c *QUICConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *QUICConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

// Close releases the underlying stream.
func (c *QUICConn) Close() error {
	return c.stream.Close()
}
