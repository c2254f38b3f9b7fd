package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestClockAdvancesOnSleep(t *testing.T) {
	clk := NewTestClock(time.Unix(0, 0))
	start := clk.Now()

	err := clk.Sleep(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, start.Add(5*time.Second), clk.Now())
}

func TestTestClockSleepNeverBlocks(t *testing.T) {
	clk := NewTestClock(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		_ = clk.Sleep(context.Background(), time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("TestClock.Sleep should return immediately")
	}
}

func TestTestClockRespectsCancellation(t *testing.T) {
	clk := NewTestClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := clk.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemClockSleepRespectsContext(t *testing.T) {
	clk := SystemClock{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := clk.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
