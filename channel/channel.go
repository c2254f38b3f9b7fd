// Package channel provides a bounded, closeable channel and a broadcast
// hub built on flux's Computation shape: every blocking operation is a
// flux.Computation[R, error, A] that observes the calling fiber's own
// cancellation via [flux.FromFuture], not a bare Go channel op that a
// fiber's interrupt could never reach.
package channel

import (
	"context"
	"errors"
	"sync"

	flux "github.com/nodelift/flux"
)

// ErrClosed is returned by [Send] and [Receive] when the channel has
// been closed.
var ErrClosed = errors.New("channel: closed")

// Channel is a bounded, FIFO, closeable channel between any number of
// senders and receivers. Close is idempotent and safe to call
// concurrently with Send/Receive: callers never see Go's native
// panic-on-double-close or panic-on-send-after-close.
type Channel[T any] struct {
	ch     chan T
	once   sync.Once
	closed chan struct{}

	mu       sync.RWMutex
	isClosed bool
}

// New returns an open Channel buffering up to capacity values.
func New[T any](capacity int) *Channel[T] {
	return &Channel[T]{ch: make(chan T, capacity), closed: make(chan struct{})}
}

// Close closes the channel. Pending [Receive] calls drain any buffered
// values first, then observe closure; pending [Send] calls fail with
// [ErrClosed].
func (c *Channel[T]) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.isClosed = true
		c.mu.Unlock()
		close(c.closed)
		close(c.ch)
	})
}

// Size reports the number of values currently buffered.
func (c *Channel[T]) Size() int { return len(c.ch) }

// Send delivers v to the channel, suspending the calling fiber until
// there is room, the channel closes, or the fiber is interrupted.
func Send[R, T any](c *Channel[T], v T) flux.Computation[R, error, struct{}] {
	return flux.FromFuture[R, struct{}](func(ctx context.Context) (struct{}, error) {
		c.mu.RLock()
		if c.isClosed {
			c.mu.RUnlock()
			return struct{}{}, ErrClosed
		}
		c.mu.RUnlock()
		return struct{}{}, sendOrClosed(c, ctx, v)
	})
}

// sendOrClosed performs the blocking send outside the lock Send checked
// isClosed under, so a concurrent Close can still close c.ch between
// that check and this select. isClosed only ever latches one way, so any
// send-on-closed-channel panic that races in here can only mean Close
// won that race, never a programming error; recovering it into ErrClosed
// keeps Send's contract (fail with ErrClosed, never panic) regardless of
// how the two interleave.
func sendOrClosed[T any](c *Channel[T], ctx context.Context, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()
	select {
	case c.ch <- v:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend attempts a non-blocking send, reporting false if the buffer is
// full or the channel is closed.
func (c *Channel[T]) TrySend(v T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosed {
		return false
	}
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Receive suspends the calling fiber until a value is available, the
// channel closes (reporting [ErrClosed]), or the fiber is interrupted.
func Receive[R, T any](c *Channel[T]) flux.Computation[R, error, T] {
	return flux.FromFuture[R, T](func(ctx context.Context) (T, error) {
		select {
		case v, ok := <-c.ch:
			if !ok {
				var zero T
				return zero, ErrClosed
			}
			return v, nil
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	})
}
