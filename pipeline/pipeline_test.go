package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/channel"
)

func TestPipelineSingleStage(t *testing.T) {
	in := channel.New[int](8)
	var sum atomic.Int64

	sink := NewStage[int, struct{}](func(n int) (struct{}, error) {
		sum.Add(int64(n))
		return struct{}{}, nil
	}).WithWorkers(2)

	p := Via(Source[struct{}](in), sink)

	rt := flux.NewRuntime(flux.NewContext())
	done := make(chan flux.Exit[error, struct{}], 1)
	go func() { done <- flux.Run(rt, context.Background(), Run(p)) }()

	for i := 1; i <= 10; i++ {
		require.True(t, in.TrySend(i) || tryUntilSent(t, in, i))
	}
	in.Close()

	exit := <-done
	require.True(t, exit.IsSuccess(), "pipeline should drain cleanly")
	assert.Equal(t, int64(55), sum.Load())
}

func tryUntilSent(t *testing.T, ch *channel.Channel[int], v int) bool {
	t.Helper()
	for i := 0; i < 100; i++ {
		if ch.TrySend(v) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestPipelineMultiStage(t *testing.T) {
	in := channel.New[int](4)

	double := NewStage[int, int](func(n int) (int, error) {
		return n * 2, nil
	}).WithWorkers(3)

	var results sync.Map
	collect := NewStage[int, struct{}](func(n int) (struct{}, error) {
		results.Store(n, true)
		return struct{}{}, nil
	})

	p := Via(Via(Source[struct{}](in), double), collect)

	rt := flux.NewRuntime(flux.NewContext())
	done := make(chan flux.Exit[error, struct{}], 1)
	go func() { done <- flux.Run(rt, context.Background(), Run(p)) }()

	for i := 0; i < 20; i++ {
		require.True(t, tryUntilSent(t, in, i))
	}
	in.Close()

	exit := <-done
	require.True(t, exit.IsSuccess())
	for i := 0; i < 20; i++ {
		_, ok := results.Load(i * 2)
		assert.True(t, ok, "missing doubled value for %d", i)
	}
}

func TestPipelinePropagatesWorkerError(t *testing.T) {
	in := channel.New[int](4)
	boom := errors.New("boom")

	failing := NewStage[int, struct{}](func(n int) (struct{}, error) {
		if n == 3 {
			return struct{}{}, boom
		}
		return struct{}{}, nil
	})

	p := Via(Source[struct{}](in), failing)

	rt := flux.NewRuntime(flux.NewContext())
	done := make(chan flux.Exit[error, struct{}], 1)
	go func() { done <- flux.Run(rt, context.Background(), Run(p)) }()

	for i := 0; i < 5; i++ {
		require.True(t, tryUntilSent(t, in, i))
	}

	exit := <-done
	require.True(t, exit.IsFailure())
	cause, ok := exit.Cause()
	require.True(t, ok)
	fv, ok := cause.FailureValue()
	require.True(t, ok)
	assert.ErrorIs(t, fv, boom)
}

func TestStageOptionsValidate(t *testing.T) {
	stage := NewStage[int, int](func(n int) (int, error) { return n, nil })
	assert.Panics(t, func() { stage.WithWorkers(0) })
	assert.Panics(t, func() { stage.WithOutCapacity(-1) })

	withWorkers := stage.WithWorkers(5)
	withCap := stage.WithOutCapacity(0)
	_ = withWorkers
	_ = withCap
}

func TestPipelineStageLabel(t *testing.T) {
	// Stages are plain values; building the same chain twice from the
	// same Stage value must not share state between runs.
	in1 := channel.New[string](2)
	in2 := channel.New[string](2)

	upper := NewStage[string, string](func(s string) (string, error) {
		return s + "!", nil
	})

	var out1, out2 sync.Map
	collect1 := NewStage[string, struct{}](func(s string) (struct{}, error) {
		out1.Store(s, true)
		return struct{}{}, nil
	})
	collect2 := NewStage[string, struct{}](func(s string) (struct{}, error) {
		out2.Store(s, true)
		return struct{}{}, nil
	})

	p1 := Via(Via(Source[struct{}](in1), upper), collect1)
	p2 := Via(Via(Source[struct{}](in2), upper), collect2)

	rt := flux.NewRuntime(flux.NewContext())
	done1 := make(chan flux.Exit[error, struct{}], 1)
	done2 := make(chan flux.Exit[error, struct{}], 1)
	go func() { done1 <- flux.Run(rt, context.Background(), Run(p1)) }()
	go func() { done2 <- flux.Run(rt, context.Background(), Run(p2)) }()

	for i := 0; i < 5; i++ {
		require.True(t, tryUntilSentStr(t, in1, strconv.Itoa(i)))
		require.True(t, tryUntilSentStr(t, in2, "x"+strconv.Itoa(i)))
	}
	in1.Close()
	in2.Close()

	require.True(t, (<-done1).IsSuccess())
	require.True(t, (<-done2).IsSuccess())

	for i := 0; i < 5; i++ {
		_, ok := out1.Load(strconv.Itoa(i) + "!")
		assert.True(t, ok)
		_, ok = out2.Load("x" + strconv.Itoa(i) + "!")
		assert.True(t, ok)
	}
}

func tryUntilSentStr(t *testing.T, ch *channel.Channel[string], v string) bool {
	t.Helper()
	for i := 0; i < 100; i++ {
		if ch.TrySend(v) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// TestPipelineRunWaitsForInFlightWorkerOnCancellation exercises the
// worker-leak scenario directly: a stage's process function is plain,
// synchronous Go code with no context of its own, so once a worker has
// pulled an item it cannot observe cancellation again until that item
// is done. Run must not report "finished" until that in-flight work has
// actually completed.
func TestPipelineRunWaitsForInFlightWorkerOnCancellation(t *testing.T) {
	in := channel.New[int](4)
	var started atomic.Bool
	var finishedAt atomic.Int64

	slow := NewStage[int, struct{}](func(n int) (struct{}, error) {
		started.Store(true)
		time.Sleep(80 * time.Millisecond)
		finishedAt.Store(time.Now().UnixNano())
		return struct{}{}, nil
	})

	p := Via(Source[struct{}](in), slow)

	rt := flux.NewRuntime(flux.NewContext())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan flux.Exit[error, struct{}], 1)
	go func() { done <- flux.Run(rt, ctx, Run(p)) }()

	require.True(t, tryUntilSent(t, in, 1))
	for i := 0; i < 100 && !started.Load(); i++ {
		time.Sleep(time.Millisecond)
	}
	require.True(t, started.Load(), "worker never picked up the item")

	cancel()
	cancelledAt := time.Now()

	<-done
	returnedAt := time.Now()

	require.NotZero(t, finishedAt.Load(), "pipeline.Run returned before its worker finished processing the in-flight item")
	assert.GreaterOrEqual(t, returnedAt.Sub(cancelledAt), 60*time.Millisecond,
		"Run returned almost immediately after cancellation, suggesting it did not actually wait for the worker fiber to finish")
}
