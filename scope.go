package flux

import (
	"context"
	"sync"
)

// Scope is a LIFO registry of finalizers: release actions registered by
// [AcquireRelease] and run in reverse order of acquisition when the scope
// closes, whether it closes normally or because its governing computation
// failed or was interrupted.
type Scope struct {
	mu         sync.Mutex
	finalizers []func(ctx context.Context) error
	closed     bool
}

// NewScope returns an open, empty Scope.
func NewScope() *Scope {
	return &Scope{}
}

// AddFinalizer registers f to run when the scope closes. If the scope has
// already closed, f runs immediately rather than being silently dropped.
func (s *Scope) AddFinalizer(f func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		runFinalizer(f, context.Background())
		return
	}
	s.finalizers = append(s.finalizers, f)
	s.mu.Unlock()
}

// Close runs every registered finalizer in reverse registration order. A
// finalizer that fails does not stop the rest from running; their errors
// are combined with [Then] in the order they ran. Close is idempotent:
// later calls are no-ops returning [Empty].
//
// Finalizers always run to completion, even when ctx is already cancelled
// (the common case: a scope closing because the computation it guarded was
// interrupted). Close strips ctx's cancellation with [context.WithoutCancel]
// before handing it to any finalizer, so a finalizer body genuinely runs in
// an uninterruptible region rather than racing its own cleanup logic
// against the very cancellation that triggered it.
func (s *Scope) Close(ctx context.Context) Cause[Never] {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Empty[Never]()
	}
	s.closed = true
	finalizers := s.finalizers
	s.finalizers = nil
	s.mu.Unlock()

	finCtx := context.WithoutCancel(ctx)
	combined := Empty[Never]()
	for i := len(finalizers) - 1; i >= 0; i-- {
		if err := runFinalizer(finalizers[i], finCtx); err != nil {
			combined = Then(combined, NewDie[Never](err))
		}
	}
	return combined
}

// NewChild returns a Scope whose Close is registered as a finalizer of
// parent, so closing parent closes child first (LIFO: the child was
// registered after whatever came before it in parent, and finalizers run
// most-recently-added first).
func (s *Scope) NewChild() *Scope {
	child := NewScope()
	s.AddFinalizer(func(ctx context.Context) error {
		cause := child.Close(ctx)
		if cause.IsEmpty() {
			return nil
		}
		return cause.Squash()
	})
	return child
}

func runFinalizer(f func(ctx context.Context) error, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = capturePanic(r)
		}
	}()
	return f(ctx)
}
