// Package conn wraps a byte stream into a framed connection.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/Mmx233/TcpFrame/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyRunning   = errors.New("connection already running")
)

// FrameHandler receives every decoded frame of a connection, in wire order,
// from the connection's read goroutine.
type FrameHandler func(c *Conn, frame []byte)

type Options struct {
	Layout         protocol.Layout
	MaxFrameLength int // 0 means protocol.DefaultMaxFrameLength
	FailFast       bool

	OnFrame FrameHandler

	// Logger defaults to the global logger
	Logger  *zerolog.Logger
	Metrics *metrics.Collector
}

// Stats counts traffic of one connection.
type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
}

// Conn is one framed connection. It is active until closed.
type Conn struct {
	id          string
	raw         net.Conn
	layout      protocol.Layout
	decoder     *protocol.Decoder
	onFrame     FrameHandler
	logger      zerolog.Logger
	metrics     *metrics.Collector
	connectedAt time.Time

	writeMu sync.Mutex
	running atomic.Bool
	closed  atomic.Bool
	// orders the closed check before a dispatch against Close
	dispatchMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

// New wraps raw. The caller must call Run to start receiving frames.
func New(raw net.Conn, opts Options) (*Conn, error) {
	maxFrameLength := opts.MaxFrameLength
	if maxFrameLength == 0 {
		maxFrameLength = protocol.DefaultMaxFrameLength
	}
	decoder, err := protocol.NewDecoder(opts.Layout, maxFrameLength, opts.FailFast)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("com", "conn").Logger()
	}
	logger = logger.With().
		Str("conn_id", id).
		Str("remote", raw.RemoteAddr().String()).
		Logger()

	onFrame := opts.OnFrame
	if onFrame == nil {
		onFrame = func(*Conn, []byte) {}
	}

	c := &Conn{
		id:          id,
		raw:         raw,
		layout:      opts.Layout,
		decoder:     decoder,
		onFrame:     onFrame,
		logger:      logger,
		metrics:     opts.Metrics,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	c.metrics.ConnectionOpened()
	return c, nil
}

// Run reads and dispatches frames until the connection ends, then closes it.
// It returns nil when the peer or a local Close ended the connection, and the
// transport or decode error otherwise. Run may be called once.
func (c *Conn) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	group, child := errgroup.WithContext(ctx)

	group.Go(c.readLoop)

	group.Go(func() error {
		select {
		case <-child.Done():
		case <-c.done:
		}
		_ = c.Close()
		return nil
	})

	err := group.Wait()
	if err != nil {
		c.logger.Debug().Err(err).Msg("connection closed with error")
	} else {
		c.logger.Debug().Msg("connection closed")
	}
	return err
}

func (c *Conn) readLoop() error {
	defer c.Close()

	bufPtr := protocol.GetReadBuffer()
	defer protocol.PutReadBuffer(bufPtr)
	buf := *bufPtr

	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			c.metrics.BytesReceived(n)
			c.decoder.Feed(buf[:n])
			if err := c.drain(); err != nil {
				return err
			}
		}
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// drain dispatches every complete frame buffered in the decoder.
func (c *Conn) drain() error {
	for {
		frame, ok, err := c.decoder.Next()
		if err != nil {
			c.metrics.DecodeError(decodeErrorReason(err))
			c.logger.Warn().Err(err).Msg("decode failed, closing connection")
			return err
		}
		if !ok {
			return nil
		}
		c.dispatchMu.Lock()
		closed := c.closed.Load()
		c.dispatchMu.Unlock()
		if closed {
			return nil
		}

		c.framesIn.Add(1)
		c.metrics.FrameReceived(len(frame))
		c.logger.Trace().Int("size", len(frame)).Msg("frame received")
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("frame handler panicked")
		}
	}()
	c.onFrame(c, frame)
}

func decodeErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameTooLong):
		return "too_long"
	case errors.Is(err, protocol.ErrCorruptFrame):
		return "corrupt"
	default:
		return "other"
	}
}

// Send encodes payload as one frame and writes it. Concurrent sends are
// serialized. A deadline on ctx bounds the write. A failed write closes the
// connection since the peer may have seen a partial frame.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.raw.SetWriteDeadline(deadline)
		defer c.raw.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteFrame(c.raw, payload, c.layout); err != nil {
		if errors.Is(err, protocol.ErrLengthFieldOverflow) || errors.Is(err, protocol.ErrInvalidLayout) {
			return err
		}
		c.metrics.SendFailed()
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		c.logger.Debug().Err(err).Msg("send failed, closing connection")
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return err
	}

	wireSize := c.layout.HeaderLength() + len(payload)
	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(wireSize))
	c.metrics.FrameSent(wireSize)
	c.logger.Trace().Int("size", len(payload)).Msg("frame sent")
	return nil
}

// Close closes the transport. It is idempotent and safe from any goroutine,
// including the frame handler. Once Close returns no new frame is dispatched;
// a handler call that already started may still be running.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.dispatchMu.Lock()
		// waits out a dispatch that is past its closed check
		c.dispatchMu.Unlock()
		if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		close(c.done)
		c.metrics.ConnectionClosed()
	})
	return c.closeErr
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// IsActive reports whether the connection has not been closed.
func (c *Conn) IsActive() bool {
	return !c.closed.Load()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Conn) Stats() Stats {
	return Stats{
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
	}
}

func (c *Conn) String() string {
	return c.id
}
