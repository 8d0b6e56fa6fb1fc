package protocol

import (
	"errors"
	"fmt"
)

// Errors returned by the frame codec.
var (
	ErrInvalidLayout       = errors.New("invalid frame layout")
	ErrLengthFieldOverflow = errors.New("length field overflow")
	// ErrFrameTooLong matches every *TooLongFrameError.
	ErrFrameTooLong = errors.New("frame too long")
	ErrCorruptFrame = errors.New("corrupt frame")
)

// TooLongFrameError reports a declared frame length above the decoder limit.
// A negative Length is an adjusted length below zero.
type TooLongFrameError struct {
	Length int64
	Max    int64
}

func (e *TooLongFrameError) Error() string {
	if e.Length < 0 {
		return fmt.Sprintf("frame too long: adjusted length %d is negative", e.Length)
	}
	return fmt.Sprintf("frame too long: %d bytes exceeds max frame length %d", e.Length, e.Max)
}

func (e *TooLongFrameError) Is(target error) bool {
	return target == ErrFrameTooLong
}
