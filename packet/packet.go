// Package packet implements the wire codec for rudp frames: a fixed
// 10-byte header (type, sequence, length), network byte order,
// followed by an opaque payload.
package packet

import (
	"encoding/binary"
	"fmt"
)

// Type is a bitfield over the frame kinds a header can carry.
type Type uint16

const (
	SYN  Type = 0x01
	ACK  Type = 0x02
	PING Type = 0x04
	MSG  Type = 0x08
	PONG Type = 0x10

	SYNACK = SYN | ACK
)

func (t Type) String() string {
	switch t {
	case SYN:
		return "SYN"
	case ACK:
		return "ACK"
	case SYNACK:
		return "SYNACK"
	case PING:
		return "PING"
	case MSG:
		return "MSG"
	case PONG:
		return "PONG"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint16(t))
	}
}

// Has reports whether all bits of want are set in t. Unknown bits are
// always ignored by callers; Has never errors on them.
func (t Type) Has(want Type) bool {
	return t&want == want
}

// HeaderSize is the fixed size, in bytes, of every rudp frame's header.
const HeaderSize = 10

// Packet is a fully decoded rudp frame.
type Packet struct {
	Type     Type
	Sequence uint32
	Payload  []byte
}

// Build serializes a frame: header in network byte order followed by
// payload. The returned slice is freshly allocated and owned by the
// caller; len(payload) becomes the header's length field.
func Build(t Type, sequence uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint32(buf[2:6], sequence)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Parse decodes a frame read off the wire. It fails with ErrMalformed
// if the buffer is shorter than the header claims; payload is a fresh
// copy, safe to retain after the caller's read buffer is reused.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformed, len(buf), HeaderSize)
	}
	t := Type(binary.BigEndian.Uint16(buf[0:2]))
	seq := binary.BigEndian.Uint32(buf[2:6])
	length := binary.BigEndian.Uint32(buf[6:10])

	// Compare as uint32 against the available trailing bytes rather than
	// adding into an int: on a 32-bit platform a length near 0xFFFFFFFF
	// would overflow HeaderSize+int(length) to a negative number and
	// slip past a ">" check that was expecting it to be large.
	if length > uint32(len(buf)-HeaderSize) {
		return Packet{}, fmt.Errorf("%w: header claims %d-byte payload but only %d bytes follow", ErrMalformed, length, len(buf)-HeaderSize)
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		copy(payload, buf[HeaderSize:HeaderSize+int(length)])
	}
	return Packet{Type: t, Sequence: seq, Payload: payload}, nil
}
