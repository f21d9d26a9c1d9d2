package transport

import (
	"encoding/binary"
	"errors"
	"os"
	"time"

	"github.com/lodecast/masterd/internal/wire"
)

type recvState int

const (
	stateIdle recvState = iota
	stateHeader
	stateBody
)

// FramedTransport sends complete frames and receives them with a
// caller-supplied bounded time budget, resuming across calls. A
// receiver that has begun reading a frame (state != Idle) must not be
// abandoned without closing the underlying connection — resuming with
// RecvFor is the only valid continuation (spec.md §4.B).
type FramedTransport struct {
	conn Conn

	state        recvState
	headerBuf    [2]byte
	headerFilled int
	bodyLen      int
	bodyBuf      []byte
	bodyFilled   int
}

// New wraps conn in a FramedTransport. conn must support read
// deadlines; RecvFor uses them to bound each receive attempt so the
// read loop can observe the budget elapsing without blocking forever.
func New(conn Conn) *FramedTransport {
	return &FramedTransport{conn: conn}
}

// Send frames msg and writes it in full, looping over partial writes.
func (t *FramedTransport) Send(msg wire.Message) error {
	framed, err := wire.Frame(msg)
	if err != nil {
		return err
	}
	total := 0
	for total < len(framed) {
		n, err := t.conn.Write(framed[total:])
		if err != nil {
			return &IoError{Err: err}
		}
		if n == 0 {
			return &IoError{Err: errors.New("short write")}
		}
		total += n
	}
	return nil
}

// RecvFor attempts to receive one complete frame within budget,
// resuming any partial frame left over from a previous call. See
// Outcome for the three externally-visible results; a non-nil error
// alongside a nil message and zero Outcome means Failed per spec.md
// §4.B (an IoError) or a terminal *wire.ProtocolError.
func (t *FramedTransport) RecvFor(budget time.Duration) (Outcome, wire.Message, error) {
	deadline := time.Now().Add(budget)
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Ready, nil, &IoError{Err: err}
	}

	for {
		if time.Now().After(deadline) {
			return Pending, nil, nil
		}

		if t.state == stateIdle || t.state == stateHeader {
			n, err := t.conn.Read(t.headerBuf[t.headerFilled:2])
			t.headerFilled += n
			if t.headerFilled == 2 {
				bodyLen := int(binary.LittleEndian.Uint16(t.headerBuf[:]))
				if bodyLen > wire.MaxPayloadSize {
					t.reset()
					return Ready, nil, newLengthOverflow()
				}
				t.bodyLen = bodyLen
				t.bodyBuf = make([]byte, bodyLen)
				t.bodyFilled = 0
				t.state = stateBody
				// Fall through to try reading the body within the
				// same budget instead of returning early.
				continue
			}
			if err != nil {
				if isTimeout(err) {
					t.state = stateHeader
					return Pending, nil, nil
				}
				return Ready, nil, &IoError{Err: err}
			}
			t.state = stateHeader
			continue
		}

		// stateBody
		n, err := t.conn.Read(t.bodyBuf[t.bodyFilled:t.bodyLen])
		t.bodyFilled += n
		if t.bodyFilled == t.bodyLen {
			msg, decErr := wire.Decode(t.bodyBuf)
			t.reset()
			if decErr != nil {
				return Ready, nil, decErr
			}
			return Ready, msg, nil
		}
		if err != nil {
			if isTimeout(err) {
				return Pending, nil, nil
			}
			return Ready, nil, &IoError{Err: err}
		}
	}
}

func (t *FramedTransport) reset() {
	t.state = stateIdle
	t.headerFilled = 0
	t.bodyLen = 0
	t.bodyBuf = nil
	t.bodyFilled = 0
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func newLengthOverflow() error {
	return &wire.ProtocolError{Kind: wire.LengthOverflow, Msg: "frame exceeds max payload size"}
}
