package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// TLS decorates another transport with TLS. Dial returns after the handshake
// completed. Accepted connections are *tls.Conn whose handshake is run through
// Handshake by the accepting side.
type TLS struct {
	inner    Transport
	client   *tls.Config
	server   *tls.Config
	sessions *SessionCache
	logger   zerolog.Logger
}

// NewTLSClient wraps inner for dialing. conf.ServerName defaults to the endpoint host.
func NewTLSClient(inner Transport, conf *tls.Config, opts ...Option) *TLS {
	return &TLS{
		inner:    inner,
		client:   conf,
		sessions: NewSessionCache(),
		logger:   newLogger("transport-tls", opts),
	}
}

// NewTLSServer wraps inner for listening.
func NewTLSServer(inner Transport, conf *tls.Config, opts ...Option) *TLS {
	return &TLS{
		inner:  inner,
		server: conf,
		logger: newLogger("transport-tls", opts),
	}
}

func (t *TLS) Name() string {
	return "tls+" + t.inner.Name()
}

// Sessions returns the client session cache.
func (t *TLS) Sessions() *SessionCache {
	return t.sessions
}

func (t *TLS) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if t.client == nil {
		return nil, errors.New("tls transport has no client config")
	}

	raw, err := t.inner.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, t.sessions.clientConfig(t.client, ep))
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	state := conn.ConnectionState()
	t.logger.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Str("server_name", state.ServerName).
		Bool("resumed", state.DidResume).
		Msg("tls handshake complete")
	return conn, nil
}

func (t *TLS) Listen(ctx context.Context, addr string) (Listener, error) {
	if t.server == nil {
		return nil, errors.New("tls transport has no server config")
	}

	ln, err := t.inner.Listen(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &tlsListener{Listener: ln, conf: t.server}, nil
}

type tlsListener struct {
	Listener
	conf *tls.Config
}

func (l *tlsListener) Accept(ctx context.Context) (net.Conn, error) {
	raw, err := l.Listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return tls.Server(raw, l.conf), nil
}
