package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mmx233/TcpFrame/conn"
	"github.com/Mmx233/TcpFrame/protocol"
	"golang.org/x/sync/errgroup"
)

var ErrNilConn = errors.New("nil connection")

// Unicast sends payload as one frame to c.
func (s *Server) Unicast(ctx context.Context, c *conn.Conn, payload []byte) error {
	if c == nil {
		return ErrNilConn
	}
	return c.Send(ctx, payload)
}

// Multicast sends payload to every connection in conns concurrently and waits
// for all of them. A failed send does not stop the others; all failures are
// joined into the returned error.
func (s *Server) Multicast(ctx context.Context, conns []*conn.Conn, payload []byte) error {
	if len(conns) == 0 {
		return nil
	}

	var g errgroup.Group
	if s.config.FanoutConcurrency > 0 {
		g.SetLimit(s.config.FanoutConcurrency)
	}

	errs := make([]error, len(conns))
	for i, c := range conns {
		g.Go(func() error {
			if c == nil {
				errs[i] = ErrNilConn
				return nil
			}
			if err := c.Send(ctx, payload); err != nil {
				errs[i] = fmt.Errorf("conn %s: %w", c.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Debug().Err(err).Int("targets", len(conns)).Msg("multicast partially failed")
	}
	return err
}

// Broadcast multicasts payload to every connected client.
func (s *Server) Broadcast(ctx context.Context, payload []byte) error {
	return s.Multicast(ctx, s.pool.List(), payload)
}

func (s *Server) UnicastString(ctx context.Context, c *conn.Conn, msg string) error {
	return s.Unicast(ctx, c, []byte(msg))
}

func (s *Server) MulticastString(ctx context.Context, conns []*conn.Conn, msg string) error {
	return s.Multicast(ctx, conns, []byte(msg))
}

func (s *Server) BroadcastString(ctx context.Context, msg string) error {
	return s.Broadcast(ctx, []byte(msg))
}

// UnicastAs serializes v and unicasts it.
func UnicastAs[T any](ctx context.Context, s *Server, c *conn.Conn, v T, serialize protocol.Serializer[T]) error {
	payload, err := serialize(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return s.Unicast(ctx, c, payload)
}

// MulticastAs serializes v once and multicasts it.
func MulticastAs[T any](ctx context.Context, s *Server, conns []*conn.Conn, v T, serialize protocol.Serializer[T]) error {
	payload, err := serialize(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return s.Multicast(ctx, conns, payload)
}

// BroadcastAs serializes v once and broadcasts it.
func BroadcastAs[T any](ctx context.Context, s *Server, v T, serialize protocol.Serializer[T]) error {
	payload, err := serialize(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return s.Broadcast(ctx, payload)
}
