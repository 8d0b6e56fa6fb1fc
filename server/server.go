// Package server is the accepting side of TcpFrame: it tracks every framed
// connection and sends to one, some or all of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/TcpFrame/config"
	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/metrics"
	"github.com/Mmx233/TcpFrame/protocol"
	"github.com/Mmx233/TcpFrame/server/pool"
	"github.com/Mmx233/TcpFrame/server/tls/stek"
	"github.com/Mmx233/TcpFrame/tools"
	"github.com/Mmx233/TcpFrame/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyStarted = errors.New("server already started")

// acceptRetryDelay paces Accept after an unexpected listener error.
const acceptRetryDelay = 50 * time.Millisecond

// Server accepts framed connections on one listen address.
type Server struct {
	config    *config.Server
	layout    protocol.Layout
	transport transport.Transport
	rotator   *stek.Rotator
	pool      *pool.Pool
	listeners tools.Listeners[Listener]
	logger    zerolog.Logger
	metrics   *metrics.Collector

	// mu serializes Start and Stop
	mu     sync.Mutex
	ln     transport.Listener
	cancel context.CancelFunc
	active atomic.Bool
	addr   atomic.Pointer[net.Addr]
	wg     sync.WaitGroup
}

// New creates a stopped server. conf gets defaults applied and is validated.
func New(conf *config.Server, opts ...Option) (*Server, error) {
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
	logger := base.With().Str("com", "server").Logger()

	s := &Server{
		config:    conf,
		layout:    layout,
		transport: o.transport,
		pool:      pool.New(logger),
		logger:    logger,
		metrics:   o.metrics,
	}
	if s.transport == nil {
		s.transport, s.rotator, err = newTransport(conf, base)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
	}
	return s, nil
}

// Start binds the listen address and begins accepting. ctx bounds binding
// only; the server runs until Stop. A bind failure leaves the server stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	addr := s.config.Listen.Addr()
	ln, err := s.transport.Listen(ctx, addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.ln, s.cancel = ln, cancel
	s.pool.Open()
	if s.rotator != nil {
		s.rotator.Start(runCtx)
	}
	boundAddr := ln.Addr()
	s.addr.Store(&boundAddr)
	s.active.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(runCtx, ln)
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("transport", s.transport.Name()).
		Msg("server started")
	s.notify("started", func(l Listener) { l.OnStarted() })
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln transport.Listener) {
	defer s.wg.Done()

	for {
		raw, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("accept failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConn(ctx, raw)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer s.wg.Done()

	logger := s.logger.With().Str("remote", raw.RemoteAddr().String()).Logger()

	hctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	err := transport.Handshake(hctx, raw)
	cancel()
	if err != nil {
		s.metrics.HandshakeFailed()
		logger.Warn().Err(err).Msg("handshake failed")
		_ = raw.Close()
		return
	}

	c, err := conn.New(raw, conn.Options{
		Layout:         s.layout,
		MaxFrameLength: s.config.Framing.MaxFrameLength,
		FailFast:       s.config.Framing.FailFast,
		OnFrame:        s.onFrame,
		Logger:         &s.logger,
		Metrics:        s.metrics,
	})
	if err != nil {
		logger.Error().Err(err).Msg("create connection failed")
		_ = raw.Close()
		return
	}

	if err := s.pool.Add(c); err != nil {
		logger.Debug().Err(err).Msg("connection rejected")
		_ = c.Close()
		return
	}

	logger.Info().Str("conn_id", c.ID()).Msg("client connected")
	s.notify("client connected", func(l Listener) { l.OnClientConnected(c) })

	if err := c.Run(ctx); err != nil {
		logger.Debug().Err(err).Str("conn_id", c.ID()).Msg("connection ended with error")
	}

	s.pool.Remove(c.ID())
	logger.Info().Str("conn_id", c.ID()).Msg("client disconnected")
	s.notify("client disconnected", func(l Listener) { l.OnClientDisconnected(c) })
}

func (s *Server) onFrame(c *conn.Conn, frame []byte) {
	s.notify("message", func(l Listener) { l.OnMessage(c, frame) })
}

// Stop closes the listener and every connection, then waits for connection
// goroutines until ctx is done. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln, cancel := s.ln, s.cancel
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.ln, s.cancel = nil, nil
	s.active.Store(false)
	s.addr.Store(nil)

	if err := ln.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close listener")
	}
	cancel()
	closed := s.pool.CloseAll()
	if s.rotator != nil {
		s.rotator.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn().Err(err).Msg("timeout waiting for connections to finish")
	}
	s.mu.Unlock()

	s.logger.Info().Int("closed", closed).Msg("server stopped")
	s.notify("stopped", func(l Listener) { l.OnStopped() })
	return err
}

// IsActive reports whether the server is accepting connections.
func (s *Server) IsActive() bool {
	return s.active.Load()
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return nil
}

// Clients returns a snapshot of connected clients ordered by connect time.
// The slice must not be modified.
func (s *Server) Clients() []*conn.Conn {
	return s.pool.List()
}

func (s *Server) Client(id string) (*conn.Conn, bool) {
	return s.pool.Get(id)
}

func (s *Server) ClientCount() int {
	return s.pool.Count()
}

func (s *Server) Transport() transport.Transport {
	return s.transport
}
