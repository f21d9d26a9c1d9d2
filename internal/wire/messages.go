package wire

import "fmt"

// Message is implemented by every wire payload variant.
type Message interface {
	Kind() Kind
}

// AuthMsg is the admission handshake payload. IsSessionID mirrors the
// sign of the wire `size` field: negative means Identifier is a
// previously-issued session id rather than the shared secret.
type AuthMsg struct {
	IsSessionID bool
	Identifier  []byte
}

func (AuthMsg) Kind() Kind { return KindAuth }

// TopicRegMsg registers or deregisters a publisher/subscriber on a
// named topic.
type TopicRegMsg struct {
	Op        RegOp
	TopicKind TopicKind
	Name      []byte
	Registrar []byte
}

func (TopicRegMsg) Kind() Kind { return KindTopicReg }

// TopicUpdMsg notifies a node that a topic it cares about gained or
// lost a registrar address.
type TopicUpdMsg struct {
	Op        UpdOp
	Registrar []byte
	Addr      []byte
}

func (TopicUpdMsg) Kind() Kind { return KindTopicUpd }

// ShutdownMsg tells the peer the connection is closing and why.
type ShutdownMsg struct {
	Code uint8
}

func (ShutdownMsg) Kind() Kind { return KindShutdown }

// maxIdentifierLen is the largest magnitude an int8 size field can
// carry (127); zero length is valid per spec.md §4.A.
const maxIdentifierLen = 127

// Encode writes the tag byte followed by msg's type-specific payload
// and returns the encoded bytes (their length is the frame's `len`
// value). The caller is responsible for
// prepending the 2-byte frame length (see Frame).
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case AuthMsg:
		return encodeAuth(m)
	case *AuthMsg:
		return encodeAuth(*m)
	case TopicRegMsg:
		return encodeTopicReg(m)
	case *TopicRegMsg:
		return encodeTopicReg(*m)
	case TopicUpdMsg:
		return encodeTopicUpd(m)
	case *TopicUpdMsg:
		return encodeTopicUpd(*m)
	case ShutdownMsg:
		return encodeShutdown(m)
	case *ShutdownMsg:
		return encodeShutdown(*m)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
}

func encodeAuth(m AuthMsg) ([]byte, error) {
	if len(m.Identifier) > maxIdentifierLen {
		return nil, newProtocolError(LengthOverflow, "auth identifier exceeds 127 bytes")
	}
	out := make([]byte, 2+len(m.Identifier))
	out[0] = byte(KindAuth)
	size := int8(len(m.Identifier))
	if m.IsSessionID {
		size = -size
	}
	out[1] = byte(size)
	copy(out[2:], m.Identifier)
	return out, nil
}

func encodeTopicReg(m TopicRegMsg) ([]byte, error) {
	if len(m.Name) > 0xFFFF || len(m.Registrar) > 0xFFFF {
		return nil, newProtocolError(LengthOverflow, "topic_reg field exceeds u16")
	}
	out := make([]byte, 0, 1+1+1+2+len(m.Name)+2+len(m.Registrar))
	out = append(out, byte(KindTopicReg), byte(m.Op), byte(m.TopicKind))
	out = appendU16String(out, m.Name)
	out = appendU16String(out, m.Registrar)
	return out, nil
}

func encodeTopicUpd(m TopicUpdMsg) ([]byte, error) {
	if len(m.Registrar) > 0xFFFF || len(m.Addr) > 0xFFFF {
		return nil, newProtocolError(LengthOverflow, "topic_upd field exceeds u16")
	}
	out := make([]byte, 0, 1+1+2+len(m.Registrar)+2+len(m.Addr))
	out = append(out, byte(KindTopicUpd), byte(m.Op))
	out = appendU16String(out, m.Registrar)
	out = appendU16String(out, m.Addr)
	return out, nil
}

func encodeShutdown(m ShutdownMsg) ([]byte, error) {
	return []byte{byte(KindShutdown), m.Code}, nil
}

func appendU16String(out []byte, s []byte) []byte {
	var lenBuf [2]byte
	putU16(lenBuf[:], uint16(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

// Decode reads the tag byte from data and dispatches to the matching
// variant's deserializer.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, newProtocolError(Truncated, "empty message")
	}
	switch Kind(data[0]) {
	case KindAuth:
		return decodeAuth(data[1:])
	case KindTopicReg:
		return decodeTopicReg(data[1:])
	case KindTopicUpd:
		return decodeTopicUpd(data[1:])
	case KindShutdown:
		return decodeShutdown(data[1:])
	default:
		return nil, newProtocolError(UnknownKind, fmt.Sprintf("tag %d", data[0]))
	}
}

func decodeAuth(b []byte) (Message, error) {
	if len(b) < 1 {
		return nil, newProtocolError(Truncated, "auth: missing size byte")
	}
	size := int8(b[0])
	isSession := size < 0
	n := int(size)
	if n < 0 {
		n = -n
	}
	if len(b)-1 < n {
		return nil, newProtocolError(Truncated, "auth: identifier shorter than size")
	}
	identifier := make([]byte, n)
	copy(identifier, b[1:1+n])
	return AuthMsg{IsSessionID: isSession, Identifier: identifier}, nil
}

func decodeTopicReg(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, newProtocolError(Truncated, "topic_reg: missing header")
	}
	op := RegOp(b[0])
	tk := TopicKind(b[1])
	nameLen := int(getU16(b[2:4]))
	offset := 4
	if len(b)-offset < nameLen+2 {
		return nil, newProtocolError(Truncated, "topic_reg: name truncated")
	}
	name := make([]byte, nameLen)
	copy(name, b[offset:offset+nameLen])
	offset += nameLen
	regLen := int(getU16(b[offset : offset+2]))
	offset += 2
	if len(b)-offset < regLen {
		return nil, newProtocolError(Truncated, "topic_reg: registrar truncated")
	}
	registrar := make([]byte, regLen)
	copy(registrar, b[offset:offset+regLen])
	return TopicRegMsg{Op: op, TopicKind: tk, Name: name, Registrar: registrar}, nil
}

func decodeTopicUpd(b []byte) (Message, error) {
	if len(b) < 3 {
		return nil, newProtocolError(Truncated, "topic_upd: missing header")
	}
	op := UpdOp(b[0])
	regLen := int(getU16(b[1:3]))
	offset := 3
	if len(b)-offset < regLen+2 {
		return nil, newProtocolError(Truncated, "topic_upd: registrar truncated")
	}
	registrar := make([]byte, regLen)
	copy(registrar, b[offset:offset+regLen])
	offset += regLen
	addrLen := int(getU16(b[offset : offset+2]))
	offset += 2
	if len(b)-offset < addrLen {
		return nil, newProtocolError(Truncated, "topic_upd: addr truncated")
	}
	addr := make([]byte, addrLen)
	copy(addr, b[offset:offset+addrLen])
	return TopicUpdMsg{Op: op, Registrar: registrar, Addr: addr}, nil
}

func decodeShutdown(b []byte) (Message, error) {
	if len(b) < 1 {
		return nil, newProtocolError(Truncated, "shutdown: missing code")
	}
	return ShutdownMsg{Code: b[0]}, nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
