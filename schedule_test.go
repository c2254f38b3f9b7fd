package flux_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
)

func TestRetryRecursStopsAfterN(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("always fails")
	attempts := 0

	comp := flux.Attempt[any, int](func() (int, error) {
		attempts++
		return 0, boom
	})
	retried := flux.Retry(comp, flux.Recurs[error](3))
	exit := flux.Run(rt, context.Background(), retried)

	require.True(t, exit.IsFailure())
	assert.Equal(t, 4, attempts) // initial attempt + 3 retries
}

func TestRetrySucceedsWithoutExhaustingSchedule(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	attempts := 0

	comp := flux.Attempt[any, int](func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 99, nil
	})
	retried := flux.Retry(comp, flux.Recurs[error](5))
	exit := flux.Run(rt, context.Background(), retried)

	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, 99, v)
	assert.Equal(t, 2, attempts)
}

func TestRepeatRunsUntilScheduleStops(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	runs := 0

	comp := flux.Sync[any, error, int](func() int { runs++; return runs })
	repeated := flux.Repeat(comp, flux.Recurs[int](3))
	exit := flux.Run(rt, context.Background(), repeated)

	require.True(t, exit.IsSuccess())
	out, _ := exit.Value()
	assert.Equal(t, 4, out) // Recurs(3) allows the initial run plus 3 more
	assert.Equal(t, 4, runs)
}

func TestRepeatStopsImmediatelyOnFailure(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("repeat boom")
	runs := 0

	comp := flux.Attempt[any, int](func() (int, error) { runs++; return 0, boom })
	repeated := flux.Repeat(comp, flux.Recurs[int](5))
	exit := flux.Run(rt, context.Background(), repeated)

	require.True(t, exit.IsFailure())
	assert.Equal(t, 1, runs)
}

func TestWhileInputStopsScheduleEarly(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("boom")
	attempts := 0

	comp := flux.Attempt[any, int](func() (int, error) { attempts++; return 0, boom })
	sched := flux.WhileInput(flux.Recurs[error](10), func(e error) bool { return attempts < 2 })
	retried := flux.Retry(comp, sched)
	flux.Run(rt, context.Background(), retried)

	assert.LessOrEqual(t, attempts, 2)
}

func TestJitteredScalesDelay(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("boom")
	attempts := 0

	start := time.Now()
	comp := flux.Attempt[any, int](func() (int, error) { attempts++; return 0, boom })
	sched := flux.Jittered(flux.Spaced[error](10*time.Millisecond), func() float64 { return 0 })
	retried := flux.Retry(comp, flux.WhileInput(sched, func(error) bool { return attempts < 3 }))
	flux.Run(rt, context.Background(), retried)

	assert.Less(t, time.Since(start), 50*time.Millisecond, "zero jitter factor should collapse delays to ~0")
}

func TestCronPanicsOnInvalidExpression(t *testing.T) {
	assert.Panics(t, func() {
		flux.Cron[int]("not a cron expression")
	})
}
