package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
)

// ALPN is the application protocol negotiated on QUIC connections.
const ALPN = "tcpframe"

// streamPreamble is written by the dialer so the peer sees the stream before any frame.
const streamPreamble byte = 0x01

var ErrStreamNotReady = errors.New("quic stream not established")

// QUIC carries one connection per QUIC connection over a single bidirectional stream.
type QUIC struct {
	client   *tls.Config
	server   *tls.Config
	conf     *quic.Config
	sessions *SessionCache
	logger   zerolog.Logger
}

// NewQUICClient returns a dialing QUIC transport.
func NewQUICClient(tlsConf *tls.Config, conf *quic.Config, opts ...Option) *QUIC {
	return &QUIC{
		client:   withALPN(tlsConf),
		conf:     conf,
		sessions: NewSessionCache(),
		logger:   newLogger("transport-quic", opts),
	}
}

// NewQUICServer returns a listening QUIC transport.
func NewQUICServer(tlsConf *tls.Config, conf *quic.Config, opts ...Option) *QUIC {
	return &QUIC{
		server: withALPN(tlsConf),
		conf:   conf,
		logger: newLogger("transport-quic", opts),
	}
}

func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		return nil
	}
	conf = conf.Clone()
	conf.NextProtos = []string{ALPN}
	if conf.MinVersion < tls.VersionTLS13 {
		conf.MinVersion = tls.VersionTLS13
	}
	if get := conf.GetConfigForClient; get != nil {
		conf.GetConfigForClient = func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
			c, err := get(chi)
			if err != nil || c == nil {
				return c, err
			}
			c = c.Clone()
			c.NextProtos = []string{ALPN}
			if c.MinVersion < tls.VersionTLS13 {
				c.MinVersion = tls.VersionTLS13
			}
			return c, nil
		}
	}
	return conf
}

func (t *QUIC) Name() string {
	return "quic"
}

func (t *QUIC) Sessions() *SessionCache {
	return t.sessions
}

func (t *QUIC) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if t.client == nil {
		return nil, errors.New("quic transport has no client config")
	}

	qc, err := quic.DialAddr(ctx, ep.Address, t.sessions.clientConfig(t.client, ep), t.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: dial quic %s: %w", ErrHandshake, ep.Address, err)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("open quic stream: %w", err)
	}
	if _, err := stream.Write([]byte{streamPreamble}); err != nil {
		_ = qc.CloseWithError(0, "write preamble failed")
		return nil, fmt.Errorf("write quic preamble: %w", err)
	}

	t.logger.Debug().
		Str("remote", qc.RemoteAddr().String()).
		Bool("resumed", qc.ConnectionState().TLS.DidResume).
		Msg("dialed")
	return &streamConn{conn: qc, stream: stream}, nil
}

func (t *QUIC) Listen(ctx context.Context, addr string) (Listener, error) {
	if t.server == nil {
		return nil, errors.New("quic transport has no server config")
	}

	ln, err := quic.ListenAddr(addr, t.server, t.conf)
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}
	t.logger.Debug().Str("addr", ln.Addr().String()).Msg("listening")
	return &quicListener{ln: ln}, nil
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (net.Conn, error) {
	qc, err := l.ln.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return &streamConn{conn: qc}, nil
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *quicListener) Close() error {
	return l.ln.Close()
}

// streamConn adapts a QUIC connection and its single stream to net.Conn.
// On the accepting side the stream is bound by HandshakeContext.
type streamConn struct {
	conn *quic.Conn

	mu     sync.Mutex
	stream *quic.Stream
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func (c *streamConn) HandshakeContext(ctx context.Context) error {
	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept quic stream: %w", err)
	}

	var preamble [1]byte
	if _, err := io.ReadFull(stream, preamble[:]); err != nil {
		stream.CancelRead(0)
		return fmt.Errorf("read quic preamble: %w", err)
	}
	if preamble[0] != streamPreamble {
		stream.CancelRead(0)
		return fmt.Errorf("unexpected quic preamble 0x%02x", preamble[0])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stream.CancelRead(0)
		return net.ErrClosed
	}
	c.stream = stream
	return nil
}

func (c *streamConn) Read(p []byte) (int, error) {
	if c.stream == nil {
		return 0, ErrStreamNotReady
	}
	return c.stream.Read(p)
}

func (c *streamConn) Write(p []byte) (int, error) {
	if c.stream == nil {
		return 0, ErrStreamNotReady
	}
	return c.stream.Write(p)
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		stream := c.stream
		c.mu.Unlock()

		if stream != nil {
			stream.CancelRead(0)
			_ = stream.Close()
		}
		c.closeErr = c.conn.CloseWithError(0, "closed")
	})
	return c.closeErr
}

func (c *streamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *streamConn) SetDeadline(t time.Time) error {
	if c.stream == nil {
		return ErrStreamNotReady
	}
	return c.stream.SetDeadline(t)
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	if c.stream == nil {
		return ErrStreamNotReady
	}
	return c.stream.SetReadDeadline(t)
}

func (c *streamConn) SetWriteDeadline(t time.Time) error {
	if c.stream == nil {
		return ErrStreamNotReady
	}
	return c.stream.SetWriteDeadline(t)
}
