package flux_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
)

func sleepThen[A any](d time.Duration, v A) flux.Computation[any, error, A] {
	return flux.FromFuture[any, A](func(ctx context.Context) (A, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			var zero A
			return zero, ctx.Err()
		}
	})
}

func TestZipParCombinesBothResults(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	comp := flux.ZipPar(sleepThen(5*time.Millisecond, "a"), sleepThen(1*time.Millisecond, 1))
	exit := flux.Run(rt, context.Background(), comp)
	require.True(t, exit.IsSuccess())
	pair, _ := exit.Value()
	assert.Equal(t, "a", pair.First)
	assert.Equal(t, 1, pair.Second)
}

func TestZipParInterruptsSurvivorOnFailure(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("zip boom")
	var slowRan atomic.Bool

	fast := flux.Fail[any, error, int](boom)
	slow := flux.FlatMap(sleepThen(30*time.Millisecond, 0), func(int) flux.Computation[any, error, int] {
		return flux.Sync[any, error, int](func() int { slowRan.Store(true); return 0 })
	})
	exit := flux.Run(rt, context.Background(), flux.ZipPar(fast, slow))
	assert.True(t, exit.IsFailure())
	assert.False(t, slowRan.Load(), "the slow side should be interrupted before finishing")
}

func TestRaceReturnsFirstSuccess(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	comp := flux.Race(sleepThen(20*time.Millisecond, "slow"), sleepThen(1*time.Millisecond, "fast"))
	exit := flux.Run(rt, context.Background(), comp)
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, "fast", v)
}

func TestRaceWaitsOutSurvivorAfterOneFailure(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("race boom")

	fast := flux.Fail[any, error, string](boom)
	slow := sleepThen(5*time.Millisecond, "eventually")
	exit := flux.Run(rt, context.Background(), flux.Race(fast, slow))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, "eventually", v)
}

func TestRaceFirstReturnsWhicheverFinishesFirst(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("fast failure")
	fast := flux.Fail[any, error, string](boom)
	slow := sleepThen(20*time.Millisecond, "slow")

	exit := flux.Run(rt, context.Background(), flux.RaceFirst(fast, slow))
	assert.True(t, exit.IsFailure())
}

func TestRaceAllPicksFirstSuccessAmongFailures(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("racer failed")
	comps := []flux.Computation[any, error, int]{
		flux.Fail[any, error, int](boom),
		sleepThen(5*time.Millisecond, 42),
		flux.Fail[any, error, int](boom),
	}
	exit := flux.Run(rt, context.Background(), flux.RaceAll(comps))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, 42, v)
}

func TestRaceAllEmptyIsADefect(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	exit := flux.Run(rt, context.Background(), flux.RaceAll([]flux.Computation[any, error, int]{}))
	require.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	assert.NotNil(t, cause.DefectValue())
}

func TestMergeAllGathersResultsInInputOrder(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	// Completion order is 5,4,3,2,1 (fastest sleep first); the result
	// must still come back in input order.
	comps := []flux.Computation[any, error, int]{
		sleepThen(50*time.Millisecond, 1),
		sleepThen(40*time.Millisecond, 2),
		sleepThen(30*time.Millisecond, 3),
		sleepThen(20*time.Millisecond, 4),
		sleepThen(10*time.Millisecond, 5),
	}
	exit := flux.Run(rt, context.Background(), flux.MergeAll(comps, 5))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, v)
}

func TestMergeAllBoundsConcurrency(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	var active, maxActive atomic.Int32

	comps := make([]flux.Computation[any, error, int], 6)
	for i := range comps {
		comps[i] = flux.FlatMap(flux.Sync[any, error](func() struct{} {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			return struct{}{}
		}), func(struct{}) flux.Computation[any, error, int] {
			return flux.FlatMap(sleepThen(20*time.Millisecond, 0), func(int) flux.Computation[any, error, int] {
				active.Add(-1)
				return flux.Succeed[any, error, int](0)
			})
		})
	}

	exit := flux.Run(rt, context.Background(), flux.MergeAll(comps, 2))
	require.True(t, exit.IsSuccess())
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestMergeAllFailureCancelsPending(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("merge boom")
	var completed atomic.Int32

	comps := []flux.Computation[any, error, int]{
		flux.Fail[any, error, int](boom),
		flux.FlatMap(sleepThen(20*time.Millisecond, 0), func(int) flux.Computation[any, error, int] {
			completed.Add(1)
			return flux.Succeed[any, error, int](0)
		}),
	}
	exit := flux.Run(rt, context.Background(), flux.MergeAll(comps, 2))
	assert.True(t, exit.IsFailure())
	assert.Zero(t, completed.Load())
}

func TestMergeAllEmptyIsADefect(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	exit := flux.Run(rt, context.Background(), flux.MergeAll([]flux.Computation[any, error, int]{}, 2))
	require.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	assert.NotNil(t, cause.DefectValue())
}

func TestForEachParPreservesOrderUnderConcurrency(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	items := []int{1, 2, 3, 4, 5}
	comp := flux.ForEachPar(items, 2, func(n int) flux.Computation[any, error, int] {
		return sleepThen(time.Duration(5-n)*time.Millisecond, n*n)
	})
	exit := flux.Run(rt, context.Background(), comp)
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, []int{1, 4, 9, 16, 25}, v)
}

func TestForEachParFailureInterruptsRest(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("item 2 boom")
	var completed atomic.Int32

	items := []int{1, 2, 3}
	comp := flux.ForEachPar(items, 3, func(n int) flux.Computation[any, error, int] {
		if n == 2 {
			return flux.Fail[any, error, int](boom)
		}
		return flux.FlatMap(sleepThen(20*time.Millisecond, n), func(v int) flux.Computation[any, error, int] {
			completed.Add(1)
			return flux.Succeed[any, error, int](v)
		})
	})
	exit := flux.Run(rt, context.Background(), comp)
	assert.True(t, exit.IsFailure())
	assert.Zero(t, completed.Load(), "items still sleeping should be interrupted before their continuation runs")
}
