// Package client is the connecting side of TcpFrame: one framed connection to
// a server with optional automatic reconnection.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/Mmx233/TcpFrame/protocol"
	"github.com/Mmx233/TcpFrame/tools"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected      = errors.New("client not connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrConnectAborted    = errors.New("connect aborted by disconnect")
	ErrClosed            = errors.New("client closed")
	ErrResolve           = errors.New("resolve host failed")
)

// Client maintains one framed connection to a server.
type Client struct {
	config    *config.Client
	layout    protocol.Layout
	transport transport.Transport
	logger    zerolog.Logger
	metrics   *metrics.Collector
	listeners tools.Listeners[Listener]

	state atomic.Int32

	mu        sync.Mutex
	conn      *conn.Conn
	host      string
	port      int
	gen       uint64 // bumped by Disconnect to invalidate in-flight attempts
	reconnect *reconnectTask
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disconnected client. conf gets defaults applied and is validated.
func New(conf *config.Client, opts ...Option) (*Client, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	layout, err := conf.Framing.Layout()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	logger := base.With().Str("com", "client").Logger()

	tr := o.transport
	if tr == nil {
		tr, err = newTransport(conf, base)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:    conf,
		layout:    layout,
		transport: tr,
		logger:    logger,
		metrics:   o.metrics,
		host:      conf.Host,
		port:      conf.Port,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Connect connects to the configured host and port.
func (c *Client) Connect(ctx context.Context) error {
	return c.ConnectTo(ctx, c.config.Host, c.config.Port)
}

// ConnectTo connects to host:port. It returns nil when already connected and
// ErrConnectInProgress while another attempt runs. A failed attempt is not
// retried.
func (c *Client) ConnectTo(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.State() {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.host, c.port = host, port
	gen := c.gen
	c.setState(StateConnecting)
	c.mu.Unlock()

	logger := c.logger.With().Str("host", host).Int("port", port).Logger()
	logger.Debug().Str("transport", c.transport.Name()).Msg("connecting")

	cn, err := c.dial(ctx, host, port)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		// Disconnect or Close ran meanwhile; the state is already theirs
		c.mu.Unlock()
		if cn != nil {
			_ = cn.Close()
		}
		return ErrConnectAborted
	}
	if err == nil && ctx.Err() != nil {
		_ = cn.Close()
		err = ctx.Err()
	}
	if err != nil {
		c.setState(StateDisconnected)
		c.mu.Unlock()
		logger.Warn().Err(err).Msg("connect failed")
		return err
	}

	c.conn = cn
	c.setState(StateConnected)
	c.wg.Add(1)
	c.mu.Unlock()

	logger.Info().Str("remote", cn.RemoteAddr().String()).Msg("connected")
	c.notify("connected", func(l Listener) { l.OnConnected() })

	go c.run(cn)
	return nil
}

func (c *Client) dial(ctx context.Context, host string, port int) (*conn.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	ip, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	ep := transport.Endpoint{
		Host:    host,
		Address: net.JoinHostPort(ip, strconv.Itoa(port)),
	}

	raw, err := c.transport.Dial(ctx, ep)
	if err != nil {
		if errors.Is(err, transport.ErrHandshake) {
			c.metrics.HandshakeFailed()
		}
		return nil, fmt.Errorf("connect %s: %w", ep.Address, err)
	}

	cn, err := conn.New(raw, conn.Options{
		Layout:         c.layout,
		MaxFrameLength: c.config.Framing.MaxFrameLength,
		FailFast:       c.config.Framing.FailFast,
		OnFrame:        c.onFrame,
		Logger:         &c.logger,
		Metrics:        c.metrics,
	})
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return cn, nil
}

func (c *Client) onFrame(_ *conn.Conn, frame []byte) {
	c.notify("message", func(l Listener) { l.OnMessage(frame) })
}

// run drives cn until it ends. An end not caused by Disconnect is an
// unexpected close: listeners see OnDisconnected first, then the reconnect
// task may start.
func (c *Client) run(cn *conn.Conn) {
	defer c.wg.Done()

	err := cn.Run(c.ctx)

	c.mu.Lock()
	if c.conn != cn {
		// Disconnect already took the connection
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setState(StateDisconnecting)
	c.setState(StateDisconnected)
	gen := c.gen
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("connection lost")
	} else {
		c.logger.Info().Msg("connection closed by peer")
	}
	c.notify("disconnected", func(l Listener) { l.OnDisconnected() })

	if !c.config.IsAutoReconnect() {
		return
	}
	c.mu.Lock()
	// listeners may have called Disconnect, Close or Connect meanwhile
	if gen == c.gen && !c.closed && c.ctx.Err() == nil &&
		c.conn == nil && c.State() == StateDisconnected {
		c.startReconnectLocked()
	}
	c.mu.Unlock()
}

// Disconnect closes the connection and cancels any pending reconnect. It
// never starts a reconnect. An attempt running concurrently discards its
// connection and returns ErrConnectAborted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()

	cn := c.conn
	c.conn = nil
	if cn == nil {
		if c.State() == StateConnecting {
			c.setState(StateDisconnected)
		}
		c.mu.Unlock()
		return nil
	}

	c.setState(StateDisconnecting)
	err := cn.Close()
	c.setState(StateDisconnected)
	c.mu.Unlock()

	c.logger.Info().Msg("disconnected")
	c.notify("disconnected", func(l Listener) { l.OnDisconnected() })
	return err
}

// Close disconnects and stops every background goroutine. It must not be
// called from a listener callback.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	c.cancel()
	c.wg.Wait()

	c.logger.Debug().Msg("client closed")
	return err
}

// Send writes payload as one frame. It returns ErrNotConnected unless the
// client is connected.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	cn := c.Conn()
	if cn == nil {
		return ErrNotConnected
	}
	if err := cn.Send(ctx, payload); err != nil {
		if errors.Is(err, conn.ErrConnectionClosed) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

func (c *Client) SendString(ctx context.Context, s string) error {
	return c.Send(ctx, []byte(s))
}

// SendAs serializes v and sends it as one frame.
func SendAs[T any](ctx context.Context, c *Client, v T, serialize protocol.Serializer[T]) error {
	payload, err := serialize(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return c.Send(ctx, payload)
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// IsActive reports whether the client holds a live connection.
func (c *Client) IsActive() bool {
	cn := c.Conn()
	return cn != nil && cn.IsActive()
}

// Conn returns the current connection, or nil when not connected.
func (c *Client) Conn() *conn.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != StateConnected {
		return nil
	}
	return c.conn
}

// Transport returns the transport the client dials with.
func (c *Client) Transport() transport.Transport {
	return c.transport
}
