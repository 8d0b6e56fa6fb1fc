// Package stek rotates TLS session ticket encryption keys for the server.
package stek

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Rotator keeps a window of session ticket keys. The first key encrypts new
// tickets; every key in the window still decrypts, so clients holding a ticket
// from an older key can resume until that key falls out of the window.
type Rotator struct {
	keys     atomic.Pointer[[][32]byte]
	interval time.Duration
	overlap  uint8
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Rotator holding overlap freshly generated keys.
func New(interval time.Duration, overlap uint8, logger zerolog.Logger) (*Rotator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("rotation interval must be positive, got %v", interval)
	}
	if overlap < 1 {
		return nil, fmt.Errorf("overlap must be at least 1, got %d", overlap)
	}

	r := &Rotator{
		interval: interval,
		overlap:  overlap,
		logger:   logger.With().Str("com", "stek").Logger(),
	}

	keys := make([][32]byte, overlap)
	for i := range keys {
		if err := generateKey(&keys[i]); err != nil {
			return nil, err
		}
	}
	r.keys.Store(&keys)

	r.logger.Debug().
		Int("keys", len(keys)).
		Dur("interval", interval).
		Msg("session ticket keys initialized")
	return r, nil
}

func generateKey(key *[32]byte) error {
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generate session ticket key: %w", err)
	}
	return nil
}

// Keys returns the current key window, newest first.
func (r *Rotator) Keys() [][32]byte {
	return *r.keys.Load()
}

// Rotate puts a new key in front and drops the oldest beyond the overlap.
func (r *Rotator) Rotate() error {
	var key [32]byte
	if err := generateKey(&key); err != nil {
		return err
	}

	current := *r.keys.Load()
	next := make([][32]byte, min(len(current)+1, int(r.overlap)))
	next[0] = key
	copy(next[1:], current)
	r.keys.Store(&next)

	r.logger.Debug().Int("keys", len(next)).Msg("session ticket keys rotated")
	return nil
}

// Bind returns a copy of conf whose handshakes always use the current keys.
func (r *Rotator) Bind(conf *tls.Config) *tls.Config {
	base := conf.Clone()
	base.SetSessionTicketKeys(r.Keys())

	bound := base.Clone()
	bound.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		c := base.Clone()
		c.SetSessionTicketKeys(r.Keys())
		return c, nil
	}
	return bound
}

// Start rotates keys every interval until ctx is done or Stop is called.
// Calling Start on a running Rotator is a no-op.
func (r *Rotator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

func (r *Rotator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Rotate(); err != nil {
				r.logger.Error().Err(err).Msg("session ticket key rotation failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends rotation and waits for the rotation goroutine to exit.
// It is safe to call more than once.
func (r *Rotator) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
