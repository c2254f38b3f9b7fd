package channel

import (
	"context"
	"sync"
	"time"

	flux "github.com/nodelift/flux"
)

// Merge fans multiple input Channels into one output Channel, closing
// the output once every input has closed. The fan-in goroutines are
// plain Go goroutines rather than forked fibers, since they only ever
// move values between channels and never run user Computations that a
// fiber's interrupt would need to reach; the resulting output Channel is
// read through [Receive] like any other, so consumers still observe
// their own fiber's interruption.
func Merge[T any](bufSize int, ins ...*Channel[T]) *Channel[T] {
	out := New[T](bufSize)

	var wg sync.WaitGroup
	for _, in := range ins {
		in := in
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case v, ok := <-in.ch:
					if !ok {
						return
					}
					select {
					case out.ch <- v:
					case <-out.closed:
						return
					}
				case <-out.closed:
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		out.Close()
	}()

	return out
}

// Debounce returns a Channel that emits the last value received on in
// only after a quiet period of d with no further values, closing once
// in closes (flushing a pending value first, if any).
func Debounce[T any](in *Channel[T], d time.Duration) *Channel[T] {
	out := New[T](1)

	go func() {
		defer out.Close()
		var timer *time.Timer
		var timerC <-chan time.Time
		var latest T
		var hasValue bool

		for {
			select {
			case v, ok := <-in.ch:
				if !ok {
					if hasValue {
						select {
						case out.ch <- latest:
						case <-out.closed:
						}
					}
					return
				}
				latest = v
				hasValue = true
				if timer == nil {
					timer = time.NewTimer(d)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timerC:
						default:
						}
					}
					timer.Reset(d)
				}
			case <-timerC:
				if hasValue {
					select {
					case out.ch <- latest:
					case <-out.closed:
						return
					}
					hasValue = false
					timerC = nil
					timer = nil
				}
			case <-out.closed:
				return
			}
		}
	}()
	return out
}

// Throttle returns a Channel that relays values from in at no more
// than n per the duration per, using a token bucket that starts full
// (so the first burst up to n passes immediately).
func Throttle[T any](in *Channel[T], n int, per time.Duration) *Channel[T] {
	if n <= 0 {
		panic("channel: Throttle requires n > 0")
	}
	if per <= 0 {
		panic("channel: Throttle requires per > 0")
	}
	out := New[T](n)

	go func() {
		defer out.Close()
		interval := per / time.Duration(n)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tokens := n
		for {
			if tokens == 0 {
				select {
				case <-ticker.C:
					tokens++
				case <-out.closed:
					return
				}
				continue
			}

			select {
			case v, ok := <-in.ch:
				if !ok {
					return
				}
				tokens--
				select {
				case out.ch <- v:
				case <-out.closed:
					return
				}
			case <-ticker.C:
				if tokens < n {
					tokens++
				}
			case <-out.closed:
				return
			}
		}
	}()
	return out
}

// Drain suspends the calling fiber until in closes, discarding every
// value received in the meantime. Useful for a Scope finalizer that
// must let a producer run to completion without caring about its output.
func Drain[R, T any](in *Channel[T]) flux.Computation[R, error, struct{}] {
	return flux.FromFuture[R, struct{}](func(ctx context.Context) (struct{}, error) {
		for {
			select {
			case _, ok := <-in.ch:
				if !ok {
					return struct{}{}, nil
				}
			case <-in.closed:
				return struct{}{}, nil
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}
		}
	})
}
