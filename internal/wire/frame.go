package wire

// MaxFrameSize is the largest a complete framed message (2-byte length
// header + tag + payload) may be. spec.md §3 suggests 1024 bytes
// including the header; messages that would exceed it are a protocol
// error rather than silently truncated or split.
const MaxFrameSize = 1024

// MaxPayloadSize is the largest `len` value (tag + payload) a frame
// may declare.
const MaxPayloadSize = MaxFrameSize - 2

// Frame serializes msg and prepends the 2-byte little-endian length
// prefix, returning the complete framed message.
func Frame(msg Message) ([]byte, error) {
	encoded, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	if len(encoded) > MaxPayloadSize {
		return nil, newProtocolError(LengthOverflow, "encoded message exceeds max frame size")
	}
	out := make([]byte, 2+len(encoded))
	putU16(out[:2], uint16(len(encoded)))
	copy(out[2:], encoded)
	return out, nil
}

// Unframe is the inverse of Frame: data must be exactly the 2-byte
// length header followed by that many bytes, no more, no less.
func Unframe(data []byte) (Message, error) {
	if len(data) < 2 {
		return nil, newProtocolError(Truncated, "missing length header")
	}
	n := int(getU16(data[:2]))
	if n > MaxPayloadSize {
		return nil, newProtocolError(LengthOverflow, "declared length exceeds max frame size")
	}
	if len(data)-2 != n {
		return nil, newProtocolError(Truncated, "frame body length mismatch")
	}
	return Decode(data[2:])
}
