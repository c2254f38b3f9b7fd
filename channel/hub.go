package channel

import (
	"context"
	"errors"
	"sync"

	flux "github.com/nodelift/flux"
)

// Hub fans a stream of published values out to any number of dynamically
// subscribing [Channel]s, each with its own buffer. Publish delivers to
// the subscribers one at a time, so it blocks while any single
// subscriber's buffer is full, until that subscriber drains it.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[int]*Channel[T]
	nextID      int
	closed      bool
}

// NewHub returns an open Hub with no subscribers.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subscribers: map[int]*Channel[T]{}}
}

// Subscribe registers a new subscriber with its own buffer of bufSize
// and returns its Channel and an ID usable with [Hub.Unsubscribe]. If the
// hub is already closed, the returned Channel is closed too.
func (h *Hub[T]) Subscribe(bufSize int) (*Channel[T], int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := New[T](bufSize)
	if h.closed {
		ch.Close()
		return ch, id
	}
	h.subscribers[id] = ch
	return ch, id
}

// Unsubscribe closes and removes the subscriber registered under id. It
// is a no-op if id is not currently subscribed.
func (h *Hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		ch.Close()
		delete(h.subscribers, id)
	}
}

// publish delivers v to every current subscriber, blocking on whichever
// is slowest, until ctx is cancelled.
func (h *Hub[T]) publish(ctx context.Context, v T) error {
	h.mu.Lock()
	subs := make([]*Channel[T], 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		if err := sendOrClosed(ch, ctx, v); err != nil && !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return nil
}

// Publish delivers v to every current subscriber as a Computation,
// suspending the calling fiber until delivery completes or it is
// interrupted.
func Publish[R, T any](h *Hub[T], v T) flux.Computation[R, error, struct{}] {
	return flux.FromFuture[R, struct{}](func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.publish(ctx, v)
	})
}

// Close closes every current and future subscriber channel. Subsequent
// Subscribe calls still succeed but return an already-closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subscribers {
		ch.Close()
	}
	h.subscribers = map[int]*Channel[T]{}
}
