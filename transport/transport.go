// Package transport provides the byte streams frames travel over.
//
// A Transport dials and listens. Encryption is layered by decoration: TLS wraps
// another Transport, and the handshake is part of Dial. Accepted connections
// that still need a handshake implement Handshaker; the accepting side must
// complete it before reading frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandshake      = errors.New("transport handshake failed")
	ErrListenerClosed = errors.New("listener closed")
)

type Option func(*zerolog.Logger)

// WithLogger sets the logger a transport writes to. Defaults to the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *zerolog.Logger) {
		*l = logger
	}
}

func newLogger(com string, opts []Option) zerolog.Logger {
	logger := log.Logger
	for _, opt := range opts {
		opt(&logger)
	}
	return logger.With().Str("com", com).Logger()
}

// Endpoint names the remote side of a dial.
type Endpoint struct {
	// Host is the configured host name, used for TLS server name verification.
	Host string
	// Address is the resolved host:port to connect to.
	Address string
}

type Transport interface {
	Name() string
	Dial(ctx context.Context, ep Endpoint) (net.Conn, error)
	Listen(ctx context.Context, addr string) (Listener, error)
}

type Listener interface {
	// Accept waits for the next connection. It returns ctx.Err() once ctx is done
	// and ErrListenerClosed after Close.
	Accept(ctx context.Context) (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// Handshaker is implemented by accepted connections that must complete a
// handshake before use.
type Handshaker interface {
	HandshakeContext(ctx context.Context) error
}

// Handshake runs the handshake of c if it has one.
func Handshake(ctx context.Context, c net.Conn) error {
	h, ok := c.(Handshaker)
	if !ok {
		return nil
	}
	if err := h.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}
