package flux

import (
	"context"
	"sync/atomic"
)

// semaphore bounds concurrency for [ForEachPar] and [MergeAll]. It is
// context-aware: acquire unblocks if the governing context is cancelled.
type semaphore struct {
	ch       chan struct{}
	cap      int
	acquired atomic.Int64
}

func newSemaphore(n int) *semaphore {
	if n <= 0 {
		panic("flux: semaphore requires n > 0")
	}
	return &semaphore{ch: make(chan struct{}, n), cap: n}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		s.acquired.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	if s.acquired.Add(-1) < 0 {
		s.acquired.Add(1)
		panic("flux: semaphore.release called without matching acquire")
	}
	<-s.ch
}

func (s *semaphore) available() int {
	return s.cap - len(s.ch)
}
