package client

import (
	"context"
	"errors"
	"time"
)

type reconnectTask struct {
	cancel context.CancelFunc
}

// startReconnectLocked replaces any running reconnect task with a new one.
// c.mu must be held.
func (c *Client) startReconnectLocked() {
	c.stopReconnectLocked()

	ctx, cancel := context.WithCancel(c.ctx)
	task := &reconnectTask{cancel: cancel}
	c.reconnect = task

	c.wg.Add(1)
	go c.reconnectLoop(ctx, task, c.host, c.port)
}

// stopReconnectLocked cancels the running reconnect task. c.mu must be held.
func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.cancel()
		c.reconnect = nil
	}
}

// reconnectLoop waits the initial delay, then attempts to connect every
// reconnect delay until connected or cancelled.
func (c *Client) reconnectLoop(ctx context.Context, task *reconnectTask, host string, port int) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.reconnect == task {
			c.reconnect = nil
		}
		c.mu.Unlock()
		task.cancel()
	}()

	logger := c.logger.With().Str("host", host).Int("port", port).Logger()

	delay := c.config.ReconnectInitialDelay
	for attempt := 1; ; attempt++ {
		if !sleep(ctx, delay) {
			logger.Debug().Msg("reconnect cancelled")
			return
		}
		delay = c.config.ReconnectDelay

		if c.State() == StateConnected {
			return
		}

		c.metrics.ReconnectAttempt()
		logger.Debug().Int("attempt", attempt).Msg("reconnecting")

		err := c.ConnectTo(ctx, host, port)
		switch {
		case err == nil:
			logger.Info().Int("attempts", attempt).Msg("reconnected")
			return
		case errors.Is(err, ErrConnectAborted), errors.Is(err, ErrClosed), ctx.Err() != nil:
			return
		case errors.Is(err, ErrConnectInProgress):
			// another attempt is running, check again after the delay
		default:
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("reconnect attempt failed")
		}
	}
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
