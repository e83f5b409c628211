// Package sink provides the bounded outbound buffer that sits between
// the hub and one transport connection.
package sink

import (
	"log/slog"
	"sync"
	"time"

	apperrors "chat-hub/errors"
)

// Channel buffers outbound payloads for a single connection. Send never
// blocks longer than the configured timeout: when the client cannot
// keep up, the push fails and the router degrades the message to
// Queued instead of stalling the hub.
type Channel struct {
	log       *slog.Logger
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
}

func NewChannel(log *slog.Logger, bufferSize int, timeout time.Duration) *Channel {
	return &Channel{
		log:     log,
		out:     make(chan []byte, bufferSize),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

// Send queues payload for the write pump. Fails with ErrChannelFull
// when the buffer stays full past the timeout and with ErrChannelClosed
// once Close ran.
func (c *Channel) Send(payload []byte) error {
	select {
	case <-c.done:
		return apperrors.ErrChannelClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return apperrors.ErrChannelClosed
	case <-time.After(c.timeout):
		c.log.Warn("outbound buffer full, dropping push")
		return apperrors.ErrChannelFull
	}
}

// Close is idempotent. Payloads already buffered may still be flushed
// by the write pump before it observes Done.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Outbound is consumed by the connection's write pump, the single
// goroutine allowed to write to the transport.
func (c *Channel) Outbound() <-chan []byte {
	return c.out
}

func (c *Channel) Done() <-chan struct{} {
	return c.done
}
