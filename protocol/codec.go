package protocol

import (
	"fmt"
	"io"
)

// Encode returns the wire representation of payload under layout.
// Header bytes other than the length field are zero.
func Encode(payload []byte, layout Layout) ([]byte, error) {
	out := make([]byte, layout.HeaderLength()+len(payload))
	if err := encodeHeader(out, len(payload), layout); err != nil {
		return nil, err
	}
	copy(out[layout.HeaderLength():], payload)
	return out, nil
}

// WriteFrame encodes payload and writes it to w with a single Write call.
func WriteFrame(w io.Writer, payload []byte, layout Layout) error {
	headerLen := layout.HeaderLength()

	buf := GetBufferWithSize(headerLen + len(payload))
	defer PutBuffer(buf)

	// Reserve zeroed header space, then fill in the length field in place
	buf.Write(make([]byte, headerLen))
	if err := encodeHeader(buf.Bytes(), len(payload), layout); err != nil {
		return err
	}
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// encodeHeader writes the length field into dst, which holds at least HeaderLength zeroed bytes.
func encodeHeader(dst []byte, payloadLen int, layout Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	afterField := int64(layout.HeaderLength()-layout.LengthFieldEndOffset()) + int64(payloadLen)
	value := afterField - int64(layout.LengthAdjustment) + layout.includedLength()
	if value < 0 || uint64(value) > layout.maxFieldValue() {
		return fmt.Errorf("%w: value %d does not fit into %d byte length field",
			ErrLengthFieldOverflow, value, layout.LengthFieldLength)
	}

	layout.putLength(dst[layout.LengthFieldOffset:layout.LengthFieldEndOffset()], uint64(value))
	return nil
}
