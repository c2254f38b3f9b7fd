// Package services provides the Clock and Random service interfaces a
// Computation reads from its [flux.Context], plus the default,
// wall-clock-backed implementations and deterministic test doubles used
// to exercise [flux.Retry]/[flux.Repeat]/[flux.Jittered] without real
// delays or nondeterministic jitter.
package services

import (
	"context"
	"sync"
	"time"

	flux "github.com/nodelift/flux"
)

// Clock is the time source services read from the environment. It is a
// superset of flux.Clock (Sleep) so a *services.SystemClock or
// *services.TestClock can be registered under [flux.ClockTag] directly.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
	Now() time.Time
}

// ClockTag is the service tag components in this package register under.
// It is distinct from [flux.ClockTag]: most callers register a
// *SystemClock or *TestClock under both tags via [SystemClockLayer] /
// [TestClockLayer] so flux's own Retry/Repeat and code that wants Now()
// resolve the same instance.
var ClockTag = flux.NewTag[Clock]("services.Clock")

// SystemClock wraps the real wall clock.
type SystemClock struct{}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TestClock is a manually-advanced virtual clock: Sleep records the
// requested duration against a running total and returns immediately,
// never blocking the calling goroutine. Advance moves the virtual time
// forward explicitly.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock returns a TestClock starting at start.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

// Sleep advances the virtual clock by d and returns immediately, unless
// ctx is already cancelled.
func (c *TestClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.mu.Lock()
		c.now = c.now.Add(d)
		c.mu.Unlock()
	}
	return nil
}

// Now returns the clock's current virtual time.
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the virtual clock forward by d directly, independent of
// any in-flight Sleep call.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SystemClockLayer registers a SystemClock under both [ClockTag] and
// [flux.ClockTag], so flux's own Retry/Repeat see it too.
func SystemClockLayer() flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		clk := SystemClock{}
		ctx := flux.ContextAdd(flux.NewContext(), ClockTag, Clock(clk))
		return flux.ContextAdd(ctx, flux.ClockTag, flux.Clock(clk))
	}))
}

// TestClockLayer registers a *TestClock starting at start under both
// [ClockTag] and [flux.ClockTag].
func TestClockLayer(start time.Time) flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		clk := NewTestClock(start)
		ctx := flux.ContextAdd(flux.NewContext(), ClockTag, Clock(clk))
		return flux.ContextAdd(ctx, flux.ClockTag, flux.Clock(clk))
	}))
}
