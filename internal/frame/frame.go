package frame

import (
	"bytes"
	"errors"
	"fmt"
)

// Wire layout: AA 77 | type | len | payload | crc_lo crc_hi
const (
	Header0 = 0xAA
	Header1 = 0x77

	headerSize  = 4 // marker(2) + type + len
	trailerSize = 2 // CRC16 little-endian

	MinSize    = headerSize + trailerSize
	MaxPayload = 0xFF
)

// Type is the command type byte.
type Type uint8

const (
	TypeRead     Type = 0x03
	TypeWrite    Type = 0x04
	TypeFeedback Type = 0x05 // unsolicited push from the device
)

func (t Type) String() string {
	switch t {
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeFeedback:
		return "feedback"
	default:
		return fmt.Sprintf("type(0x%02X)", uint8(t))
	}
}

var (
	ErrBadHeader       = errors.New("bad frame header")
	ErrLengthMismatch  = errors.New("frame length mismatch")
	ErrCrcMismatch     = errors.New("frame crc mismatch")
	ErrPayloadTooLarge = errors.New("frame payload too large")
	ErrIncomplete      = errors.New("incomplete frame")
)

var marker = []byte{Header0, Header1}

type Frame struct {
	Type    Type
	Payload []byte
}

// Encode builds the complete wire frame.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, headerSize+len(payload), headerSize+len(payload)+trailerSize)
	buf[0] = Header0
	buf[1] = Header1
	buf[2] = byte(t)
	buf[3] = byte(len(payload))
	copy(buf[headerSize:], payload)

	crc := Checksum(buf)
	return append(buf, byte(crc), byte(crc>>8)), nil
}

// Encode is a convenience wrapper around the package-level Encode.
func (f Frame) Encode() ([]byte, error) {
	return Encode(f.Type, f.Payload)
}

// Decode parses exactly one frame. The whole window must be consumed.
func Decode(data []byte) (Frame, error) {
	if len(data) < 2 || data[0] != Header0 || data[1] != Header1 {
		return Frame{}, ErrBadHeader
	}
	if len(data) < MinSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrLengthMismatch, len(data))
	}

	declared := int(data[3])
	if got := len(data) - MinSize; got != declared {
		return Frame{}, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, declared, got)
	}

	body := data[:len(data)-trailerSize]
	want := Checksum(body)
	got := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	if want != got {
		return Frame{}, fmt.Errorf("%w: want 0x%04X, got 0x%04X", ErrCrcMismatch, want, got)
	}

	payload := make([]byte, declared)
	copy(payload, data[headerSize:headerSize+declared])

	return Frame{Type: Type(data[2]), Payload: payload}, nil
}

// Extract pulls the next frame out of a streaming buffer and returns the
// unconsumed remainder. Bytes before the header marker are skipped. When
// no complete frame is buffered yet it returns ErrIncomplete together with
// the (possibly trimmed) buffer. A frame that fails validation is consumed
// and its error returned.
func Extract(buf []byte) (Frame, []byte, error) {
	idx := bytes.Index(buf, marker)
	if idx < 0 {
		// keep a trailing 0xAA, it may be the first half of a marker
		if n := len(buf); n > 0 && buf[n-1] == Header0 {
			return Frame{}, buf[n-1:], ErrIncomplete
		}
		return Frame{}, buf[:0], ErrIncomplete
	}
	buf = buf[idx:]

	if len(buf) < headerSize {
		return Frame{}, buf, ErrIncomplete
	}

	total := MinSize + int(buf[3])
	if len(buf) < total {
		return Frame{}, buf, ErrIncomplete
	}

	f, err := Decode(buf[:total])
	return f, buf[total:], err
}
