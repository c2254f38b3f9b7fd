package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
)

func TestSendAndReceivePreserveFIFOOrder(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[int](4)

	for i := 1; i <= 4; i++ {
		exit := flux.Run(rt, context.Background(), Send[any, int](c, i))
		require.True(t, exit.IsSuccess())
	}

	for i := 1; i <= 4; i++ {
		exit := flux.Run(rt, context.Background(), Receive[any, int](c))
		require.True(t, exit.IsSuccess())
		v, _ := exit.Value()
		assert.Equal(t, i, v, "receives must observe sends in send order")
	}
}

func TestSendNeverExceedsCapacity(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[int](2)

	require.True(t, c.TrySend(1))
	require.True(t, c.TrySend(2))
	assert.False(t, c.TrySend(3), "a third send into a capacity-2 channel must not be accepted")
	assert.Equal(t, 2, c.Size())

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		exit := flux.Run(rt, context.Background(), Send[any, int](c, 3))
		assert.True(t, exit.IsSuccess())
	}()
	<-started

	// The blocked send above must not have snuck a third value into the
	// buffer; draining one slot is what finally lets it through.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, c.Size())

	exit := flux.Run(rt, context.Background(), Receive[any, int](c))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, 1, v)

	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 2)
}

func TestReceiveObservesCloseAfterDraining(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[string](2)
	require.True(t, c.TrySend("a"))
	c.Close()

	exit := flux.Run(rt, context.Background(), Receive[any, string](c))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, "a", v)

	exit = flux.Run(rt, context.Background(), Receive[any, string](c))
	assert.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	fv, ok := cause.FailureValue()
	require.True(t, ok)
	assert.ErrorIs(t, fv, ErrClosed)
}

func TestSendAfterCloseFailsWithErrClosed(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[int](1)
	c.Close()

	exit := flux.Run(rt, context.Background(), Send[any, int](c, 1))
	assert.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	fv, ok := cause.FailureValue()
	require.True(t, ok)
	assert.ErrorIs(t, fv, ErrClosed)
}

func TestCloseDuringBlockedSendFailsCleanlyInstead(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[int](1)
	require.True(t, c.TrySend(0))

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		exit := flux.Run(rt, context.Background(), Send[any, int](c, 1))
		assert.True(t, exit.IsFailure())
		cause, _ := exit.Cause()
		fv, ok := cause.FailureValue()
		require.True(t, ok)
		assert.True(t, errors.Is(fv, ErrClosed) || errors.Is(fv, context.Canceled))
	}()
	<-started
	time.Sleep(5 * time.Millisecond)
	c.Close()
	wg.Wait()
}

func TestTrySendFailsOnClosedChannel(t *testing.T) {
	c := New[int](4)
	c.Close()
	assert.False(t, c.TrySend(1))
}

func TestSendRespectsFiberInterruption(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	c := New[int](1)
	require.True(t, c.TrySend(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	exit := flux.Run(rt, ctx, Send[any, int](c, 1))
	assert.True(t, exit.IsFailure())
}
