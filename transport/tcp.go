package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// TCP is a plain TCP transport.
type TCP struct {
	logger zerolog.Logger
}

func NewTCP(opts ...Option) *TCP {
	return &TCP{
		logger: newLogger("transport-tcp", opts),
	}
}

func (t *TCP) Name() string {
	return "tcp"
}

func (t *TCP) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	d := net.Dialer{
		Control: setSocketOptions,
	}
	conn, err := d.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", ep.Address, err)
	}
	t.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("dialed")
	return conn, nil
}

func (t *TCP) Listen(ctx context.Context, addr string) (Listener, error) {
	lc := net.ListenConfig{
		Control: setSocketOptions,
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	t.logger.Debug().Str("addr", ln.Addr().String()).Msg("listening")
	return &tcpListener{ln: ln.(*net.TCPListener)}, nil
}

type tcpListener struct {
	ln *net.TCPListener
}

func (l *tcpListener) Accept(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = l.ln.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}
