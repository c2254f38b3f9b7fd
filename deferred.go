package flux

import "sync"

// Deferred is a single-assignment cell: the first [DeferredSucceed] or
// [DeferredFail] call wins, and every fiber blocked in [DeferredAwait],
// regardless of how many there are or when they started waiting, wakes
// up together once it resolves, all receiving the same [Exit].
type Deferred[E, A any] struct {
	mu   sync.Mutex
	done chan struct{}
	exit Exit[E, A]
	set  bool
}

// NewDeferred returns an unresolved Deferred.
func NewDeferred[E, A any]() *Deferred[E, A] {
	return &Deferred[E, A]{done: make(chan struct{})}
}

func (d *Deferred[E, A]) complete(exit Exit[E, A]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.set {
		return false
	}
	d.set = true
	d.exit = exit
	close(d.done)
	return true
}

// DeferredSucceed resolves d with v. It reports false if d was already
// resolved, in which case v is discarded.
func DeferredSucceed[R, E, A any](d *Deferred[E, A], v A) Computation[R, Never, bool] {
	return Sync[R, Never, bool](func() bool {
		return d.complete(Succeeded[E, A](v))
	})
}

// DeferredFail resolves d with a typed failure. It reports false if d
// was already resolved.
func DeferredFail[R, E, A any](d *Deferred[E, A], e E) Computation[R, Never, bool] {
	return Sync[R, Never, bool](func() bool {
		return d.complete(Failed[E, A](NewFail(e)))
	})
}

// DeferredAwait blocks the running fiber until d resolves, returning its
// [Exit]. If the fiber is interrupted first, DeferredAwait returns an
// interrupt without affecting d itself — other awaiters are unaffected.
func DeferredAwait[R, E, A any](d *Deferred[E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		select {
		case <-d.done:
			return d.exit
		case <-ec.goctx.Done():
			return Failed[E, A](NewInterrupt[E](nil))
		}
	}}
}
