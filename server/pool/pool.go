// Package pool is the server's registry of live connections.
package pool

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Mmx233/TcpFrame/conn"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateConn = errors.New("connection already registered")
	ErrPoolClosed    = errors.New("pool closed")
)

// Pool tracks the connections of one server. Writers take the lock; fan-out
// reads go through an atomically cached snapshot.
type Pool struct {
	mu     sync.RWMutex
	conns  map[string]*conn.Conn // conn id -> connection
	closed bool
	logger zerolog.Logger

	// nil when the map changed since the last List
	cached atomic.Pointer[[]*conn.Conn]
}

func New(logger zerolog.Logger) *Pool {
	return &Pool{
		conns:  make(map[string]*conn.Conn),
		logger: logger,
	}
}

// Add registers c. It fails on a duplicate id or a closed pool.
func (p *Pool) Add(c *conn.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, exists := p.conns[c.ID()]; exists {
		return ErrDuplicateConn
	}

	p.conns[c.ID()] = c
	p.cached.Store(nil)

	p.logger.Debug().
		Str("conn_id", c.ID()).
		Int("count", len(p.conns)).
		Msg("connection added to pool")
	return nil
}

// Remove unregisters id and reports whether it was registered.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.conns[id]; !exists {
		return false
	}
	delete(p.conns, id)
	p.cached.Store(nil)

	p.logger.Debug().
		Str("conn_id", id).
		Int("count", len(p.conns)).
		Msg("connection removed from pool")
	return true
}

func (p *Pool) Get(id string) (*conn.Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, exists := p.conns[id]
	return c, exists
}

// List returns a snapshot of all connections ordered by connect time.
// The returned slice is shared and must not be modified.
func (p *Pool) List() []*conn.Conn {
	if cached := p.cached.Load(); cached != nil {
		return *cached
	}
	return p.rebuild()
}

func (p *Pool) rebuild() []*conn.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have rebuilt while we waited for the lock
	if cached := p.cached.Load(); cached != nil {
		return *cached
	}

	conns := make([]*conn.Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	slices.SortFunc(conns, func(a, b *conn.Conn) int {
		if n := a.ConnectedAt().Compare(b.ConnectedAt()); n != 0 {
			return n
		}
		return cmp.Compare(a.ID(), b.ID())
	})

	p.cached.Store(&conns)
	return conns
}

func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// CloseAll marks the pool closed and closes every registered connection.
// Connections stay registered until their owner removes them. It returns the
// number of connections closed.
func (p *Pool) CloseAll() int {
	p.mu.Lock()
	p.closed = true
	conns := make([]*conn.Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	p.logger.Debug().Int("count", len(conns)).Msg("closed all connections")
	return len(conns)
}

// Open allows Add again after CloseAll.
func (p *Pool) Open() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}
