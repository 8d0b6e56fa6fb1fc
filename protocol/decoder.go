package protocol

import (
	"fmt"
	"math"
)

// Decoder reassembles frames from bytes fed to it in arbitrary chunks.
//
// A Decoder is owned by exactly one reader and is not safe for concurrent use.
// Once Next returns an error the decoder is failed: the error is returned from
// every later call and no further frames are produced.
type Decoder struct {
	layout         Layout
	maxFrameLength int64
	failFast       bool

	buf []byte
	off int // start of unread bytes in buf

	// set while skipping the remainder of an oversized frame
	discarding     bool
	bytesToDiscard int64
	tooLongLength  int64

	err error
}

// NewDecoder creates a decoder. maxFrameLength bounds the total frame size
// including header bytes. With failFast set an oversized frame is rejected as
// soon as its length field is readable, otherwise once all of its bytes arrived.
func NewDecoder(layout Layout, maxFrameLength int, failFast bool) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if maxFrameLength <= 0 {
		return nil, fmt.Errorf("%w: max frame length must be positive, got %d", ErrInvalidLayout, maxFrameLength)
	}
	return &Decoder{
		layout:         layout,
		maxFrameLength: int64(maxFrameLength),
		failFast:       failFast,
	}, nil
}

// Feed appends bytes read from the transport. Feeding a failed decoder is a no-op.
func (d *Decoder) Feed(p []byte) {
	if d.err != nil || len(p) == 0 {
		return
	}
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete frame. ok is false when more bytes are
// needed. Call it until ok is false to drain everything buffered.
func (d *Decoder) Next() (frame []byte, ok bool, err error) {
	if d.err != nil {
		return nil, false, d.err
	}

	if d.discarding {
		n := min(int64(d.Buffered()), d.bytesToDiscard)
		d.skip(int(n))
		d.bytesToDiscard -= n
		if d.bytesToDiscard > 0 {
			return nil, false, nil
		}
		d.discarding = false
		return nil, false, d.fail(&TooLongFrameError{Length: d.tooLongLength, Max: d.maxFrameLength})
	}

	l := d.layout
	end := l.LengthFieldEndOffset()
	data := d.buf[d.off:]
	if len(data) < end {
		return nil, false, nil
	}

	value := l.readLength(data[l.LengthFieldOffset:end])
	if value < 0 {
		d.skip(end)
		return nil, false, d.fail(fmt.Errorf("%w: negative length field %d", ErrCorruptFrame, value))
	}

	var frameLength int64
	if value > math.MaxInt64/2 {
		frameLength = math.MaxInt64
	} else {
		frameLength = value + int64(l.LengthAdjustment) - l.includedLength() + int64(end)
	}
	if frameLength < int64(end) {
		// negative adjusted length, treated like an oversized frame
		d.skip(end)
		return nil, false, d.fail(&TooLongFrameError{Length: frameLength - int64(end), Max: d.maxFrameLength})
	}

	if frameLength > d.maxFrameLength {
		return nil, false, d.exceeded(frameLength)
	}

	if int64(len(data)) < frameLength {
		return nil, false, nil
	}

	n := int(frameLength)
	if l.InitialBytesToStrip > n {
		d.skip(n)
		return nil, false, d.fail(fmt.Errorf("%w: initial bytes to strip %d exceeds frame length %d",
			ErrCorruptFrame, l.InitialBytesToStrip, n))
	}

	frame = make([]byte, n-l.InitialBytesToStrip)
	copy(frame, data[l.InitialBytesToStrip:n])
	d.skip(n)
	return frame, true, nil
}

// exceeded handles a frame above the limit. It returns nil while the decoder
// is still discarding the frame's bytes.
func (d *Decoder) exceeded(frameLength int64) error {
	err := &TooLongFrameError{Length: frameLength, Max: d.maxFrameLength}

	buffered := int64(d.Buffered())
	if buffered >= frameLength {
		d.skip(int(frameLength))
		return d.fail(err)
	}

	d.skip(int(buffered))
	if d.failFast {
		return d.fail(err)
	}

	d.discarding = true
	d.bytesToDiscard = frameLength - buffered
	d.tooLongLength = frameLength
	return nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	d.off = 0
	return err
}

func (d *Decoder) skip(n int) {
	d.off += n
}

// Buffered returns the number of bytes fed but not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the error that failed the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}
