package protocol

import (
	"bytes"
	"sync"
)

const (
	ReadBufferSize  = 32 * 1024   // chunk size for connection read loops
	MaxPooledBuffer = 1024 * 1024 // larger encode buffers are dropped instead of pooled
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

var readBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufferSize)
		return &buf
	},
}

// GetBuffer retrieves a reset encode buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// GetBufferWithSize retrieves a buffer grown to at least sizeHint bytes.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}

// GetReadBuffer retrieves a ReadBufferSize chunk for socket reads.
func GetReadBuffer() *[]byte {
	return readBufferPool.Get().(*[]byte)
}

// PutReadBuffer returns a read chunk to the pool.
func PutReadBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	readBufferPool.Put(buf)
}
