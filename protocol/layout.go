package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ByteOrder selects the endianness of the length field.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// String returns the config spelling of the byte order
func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big"
	case LittleEndian:
		return "little"
	default:
		return "unknown"
	}
}

// ParseByteOrder parses "big"/"little" (also "big-endian", "be", "le", ...).
// An empty string yields BigEndian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "big-endian", "bigendian", "be":
		return BigEndian, nil
	case "little", "little-endian", "littleendian", "le":
		return LittleEndian, nil
	default:
		return BigEndian, fmt.Errorf("unknown byte order %q", s)
	}
}

func (o ByteOrder) binary() binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Default layout values
const (
	DefaultLengthFieldLength   = 4
	DefaultInitialBytesToStrip = 4
	DefaultMaxFrameLength      = 8 * 1024 * 1024
)

// Layout describes where the length prefix lives in a frame header and how its
// value maps to the number of bytes that follow it.
//
// Wire format:
//
//	[LengthFieldOffset bytes][length field][header bytes up to InitialBytesToStrip][payload]
//
// The number of bytes following the length field is
// value + LengthAdjustment, minus LengthFieldLength when LengthIncludesLengthField is set.
// Encoder and decoder of one connection must use the same Layout.
type Layout struct {
	ByteOrder                 ByteOrder
	LengthFieldLength         int
	LengthFieldOffset         int
	LengthAdjustment          int
	InitialBytesToStrip       int
	LengthIncludesLengthField bool
}

// DefaultLayout returns a 4-byte big endian length prefix that is stripped on decode.
func DefaultLayout() Layout {
	return Layout{
		ByteOrder:           BigEndian,
		LengthFieldLength:   DefaultLengthFieldLength,
		InitialBytesToStrip: DefaultInitialBytesToStrip,
	}
}

// Validate checks the layout for values the codec cannot work with.
func (l Layout) Validate() error {
	switch l.LengthFieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return fmt.Errorf("%w: length field length must be 1, 2, 3, 4 or 8, got %d", ErrInvalidLayout, l.LengthFieldLength)
	}
	if l.ByteOrder != BigEndian && l.ByteOrder != LittleEndian {
		return fmt.Errorf("%w: unknown byte order %d", ErrInvalidLayout, l.ByteOrder)
	}
	if l.LengthFieldOffset < 0 {
		return fmt.Errorf("%w: length field offset must not be negative, got %d", ErrInvalidLayout, l.LengthFieldOffset)
	}
	if l.InitialBytesToStrip < 0 {
		return fmt.Errorf("%w: initial bytes to strip must not be negative, got %d", ErrInvalidLayout, l.InitialBytesToStrip)
	}
	return nil
}

// LengthFieldEndOffset is the number of header bytes up to and including the length field.
func (l Layout) LengthFieldEndOffset() int {
	return l.LengthFieldOffset + l.LengthFieldLength
}

// HeaderLength is the number of bytes Encode writes before the payload.
func (l Layout) HeaderLength() int {
	return max(l.LengthFieldEndOffset(), l.InitialBytesToStrip)
}

// includedLength is the part of the field value that accounts for the field itself.
func (l Layout) includedLength() int64 {
	if l.LengthIncludesLengthField {
		return int64(l.LengthFieldLength)
	}
	return 0
}

// maxFieldValue returns the largest value the length field can carry.
func (l Layout) maxFieldValue() uint64 {
	if l.LengthFieldLength >= 8 {
		return 1<<63 - 1
	}
	return 1<<(8*uint(l.LengthFieldLength)) - 1
}

func (l Layout) putLength(b []byte, value uint64) {
	order := l.ByteOrder.binary()
	switch l.LengthFieldLength {
	case 1:
		b[0] = byte(value)
	case 2:
		order.PutUint16(b, uint16(value))
	case 3:
		if l.ByteOrder == LittleEndian {
			b[0], b[1], b[2] = byte(value), byte(value>>8), byte(value>>16)
		} else {
			b[0], b[1], b[2] = byte(value>>16), byte(value>>8), byte(value)
		}
	case 4:
		order.PutUint32(b, uint32(value))
	case 8:
		order.PutUint64(b, value)
	}
}

// readLength reads the length field. Widths 1-4 are unsigned, width 8 is signed.
func (l Layout) readLength(b []byte) int64 {
	order := l.ByteOrder.binary()
	switch l.LengthFieldLength {
	case 1:
		return int64(b[0])
	case 2:
		return int64(order.Uint16(b))
	case 3:
		if l.ByteOrder == LittleEndian {
			return int64(b[0]) | int64(b[1])<<8 | int64(b[2])<<16
		}
		return int64(b[0])<<16 | int64(b[1])<<8 | int64(b[2])
	case 4:
		return int64(order.Uint32(b))
	default:
		return int64(order.Uint64(b))
	}
}
