package flux

import (
	"context"
	"sync"
	"sync/atomic"
)

// fiberLocals holds per-fiber values addressed by the same pointer-identity
// key scheme as [Tag]. A child fiber gets a snapshot copy of its parent's
// locals at fork time; writes after that point are not visible across the
// fork boundary in either direction: copy at fork, independent after.
type fiberLocals struct {
	mu     sync.Mutex
	values map[*byte]any
}

func newFiberLocals() *fiberLocals {
	return &fiberLocals{values: map[*byte]any{}}
}

func (fl *fiberLocals) get(key *byte) (any, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	v, ok := fl.values[key]
	return v, ok
}

func (fl *fiberLocals) set(key *byte, v any) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.values[key] = v
}

func (fl *fiberLocals) snapshot() *fiberLocals {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	next := make(map[*byte]any, len(fl.values))
	for k, v := range fl.values {
		next[k] = v
	}
	return &fiberLocals{values: next}
}

// fiberHandle is the lightweight, non-generic identity of the fiber
// currently evaluating a Computation. It is carried in [execCtx] so
// [FiberLocal] reads and writes reach the right map regardless of which
// Computation types are in play.
type fiberHandle struct {
	id     FiberID
	locals *fiberLocals
}

// Supervisor observes fiber lifecycle events across a [Runtime]. Each hook
// is optional; a nil hook is simply skipped. A panic inside a hook never
// crashes the fiber it is observing: it is recovered and reported on
// [Runtime.Diagnostics] instead, on a channel separate from the fiber's
// own result.
type Supervisor struct {
	OnStart   func(id FiberID)
	OnEnd     func(id FiberID, failed bool)
	OnFailure func(id FiberID, defect any)
}

// Runtime evaluates Computations: it owns the root service [Context], the
// monotonic fiber ID counter, and an optional [Supervisor]. One Runtime is
// meant to be shared by every fiber in a program.
type Runtime struct {
	env         *Context
	nextID      atomic.Int64
	supervisor  Supervisor
	diagnostics chan error
}

// NewRuntime returns a Runtime whose fibers resolve services from env.
func NewRuntime(env *Context) *Runtime {
	return &Runtime{env: env, diagnostics: make(chan error, 64)}
}

// WithSupervisor returns a copy of rt observed by sv.
func (rt *Runtime) WithSupervisor(sv Supervisor) *Runtime {
	return &Runtime{env: rt.env, supervisor: sv, diagnostics: rt.diagnostics}
}

// Diagnostics reports defects raised by Supervisor hooks themselves. It is
// never closed; callers that care should drain it with a select default
// or a dedicated goroutine.
func (rt *Runtime) Diagnostics() <-chan error {
	return rt.diagnostics
}

func (rt *Runtime) nextFiberID() FiberID {
	return FiberID(rt.nextID.Add(1))
}

func (rt *Runtime) guardHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case rt.diagnostics <- capturePanic(r):
			default:
			}
		}
	}()
	fn()
}

func (rt *Runtime) notifyStart(id FiberID) {
	if rt.supervisor.OnStart != nil {
		rt.guardHook(func() { rt.supervisor.OnStart(id) })
	}
}

func (rt *Runtime) notifyEnd(id FiberID, failed bool, defect any) {
	if rt.supervisor.OnEnd != nil {
		rt.guardHook(func() { rt.supervisor.OnEnd(id, failed) })
	}
	if failed && defect != nil && rt.supervisor.OnFailure != nil {
		rt.guardHook(func() { rt.supervisor.OnFailure(id, defect) })
	}
}

// Fiber is a running or completed evaluation of a Computation, forked via
// [Fork]: one goroutine plus a cancellation handle and a result slot.
type Fiber[E, A any] struct {
	id     FiberID
	cancel context.CancelCauseFunc
	ready  chan struct{}
	exit   Exit[E, A]
	locals *fiberLocals
}

// ID returns the fiber's monotonic identity.
func (f *Fiber[E, A]) ID() FiberID { return f.id }

// Done reports when the fiber has finished, successfully, with a typed
// failure, or having been interrupted.
func (f *Fiber[E, A]) Done() <-chan struct{} { return f.ready }

// Result returns the fiber's [Exit]. It must only be called after a
// receive from [Fiber.Done] has returned.
func (f *Fiber[E, A]) Result() Exit[E, A] { return f.exit }

// Await blocks until the fiber completes. If ctx is cancelled first,
// Await interrupts the fiber and keeps blocking until it actually
// finishes, so a caller can never observe Await returning while the
// fiber it awaited is still running.
func (f *Fiber[E, A]) Await(ctx context.Context) Exit[E, A] {
	select {
	case <-f.ready:
		return f.exit
	case <-ctx.Done():
		f.Interrupt()
		<-f.ready
		return f.exit
	}
}

// Interrupt cancels the fiber's governing context. The fiber observes
// this at its next suspension point, same as any other cancellation.
func (f *Fiber[E, A]) Interrupt() {
	f.cancel(errInterrupted)
}

// InheritLocals copies f's fiber-local values into into, overwriting
// anything into already holds for the same [FiberLocal]. It is the
// reverse of the snapshot [fork] takes automatically when a fiber
// starts: that seeds a child from its parent, this pulls a fiber's
// locals into another fiber after the fact, typically once f has
// finished and into wants to recover what it accumulated.
func (f *Fiber[E, A]) InheritLocals(into *Fiber[E, A]) {
	if f.locals == nil || into.locals == nil {
		return
	}
	snap := f.locals.snapshot()
	for k, v := range snap.values {
		into.locals.set(k, v)
	}
}

// Run evaluates comp on the calling goroutine, synchronously, until it
// completes or ctx is cancelled. Run owns a root [Scope] that is closed
// before Run returns, so any resources acquired by comp via
// [AcquireRelease] and never handed off to a longer-lived scope are
// released. Run is a free function, not a method on [Runtime], because
// Go forbids a method from introducing type parameters the receiver's
// type does not already have.
func Run[R, E, A any](rt *Runtime, ctx context.Context, comp Computation[R, E, A]) Exit[E, A] {
	id := rt.nextFiberID()
	root := NewScope()
	ec := &execCtx{
		goctx: ctx,
		env:   rt.env,
		scope: root,
		rt:    rt,
		fiber: &fiberHandle{id: id, locals: newFiberLocals()},
	}
	rt.notifyStart(id)
	exit := guardRun(func() Exit[E, A] { return comp.run(ec) })
	root.Close(ctx)
	rt.notifyEnd(id, exit.IsFailure(), exit.CauseOrEmpty().DefectValue())
	return exit
}

// Fork starts comp on a new goroutine, inheriting parent's environment
// and a snapshot of its fiber-local values, and returns immediately with
// a [Fiber] handle. The fiber gets its own child [Scope], closed by its
// own goroutine as soon as comp finishes. If parent has a scope, fork
// also registers a finalizer on it that interrupts the fiber and waits
// for it to actually finish, so a fiber forked into a scope and never
// explicitly joined is still stopped, not merely abandoned, when that
// scope closes — interruption propagates from parent to child the same
// way it would if the caller had called [Fiber.Interrupt] itself.
func fork[R, E, A any](parent *execCtx, comp Computation[R, E, A]) *Fiber[E, A] {
	fctx, cancel := context.WithCancelCause(parent.goctx)
	rt := parent.rt
	id := rt.nextFiberID()
	childScope := NewScope()
	var locals *fiberLocals
	if parent.fiber != nil {
		locals = parent.fiber.locals.snapshot()
	} else {
		locals = newFiberLocals()
	}
	ec := &execCtx{
		goctx: fctx,
		env:   parent.env,
		scope: childScope,
		rt:    rt,
		fiber: &fiberHandle{id: id, locals: locals},
	}
	fiber := &Fiber[E, A]{id: id, cancel: cancel, ready: make(chan struct{}), locals: locals}
	if parent.scope != nil {
		parent.scope.AddFinalizer(func(c context.Context) error {
			fiber.Interrupt()
			<-fiber.ready
			return nil
		})
	}
	rt.notifyStart(id)
	go func() {
		exit := guardRun(func() Exit[E, A] { return comp.run(ec) })
		childScope.Close(fctx)
		rt.notifyEnd(id, exit.IsFailure(), exit.CauseOrEmpty().DefectValue())
		fiber.exit = exit
		close(fiber.ready)
	}()
	return fiber
}

// Fork is the effectful counterpart of [fork]: it returns a Computation
// which, when run, starts comp on a new goroutine and hands back its
// [Fiber] handle without waiting for it to finish. Use [Join] to later
// suspend until the fiber completes.
func Fork[R, E, A any](comp Computation[R, E, A]) Computation[R, Never, *Fiber[E, A]] {
	return Computation[R, Never, *Fiber[E, A]]{run: func(ec *execCtx) Exit[Never, *Fiber[E, A]] {
		return Succeeded[Never, *Fiber[E, A]](fork(ec, comp))
	}}
}

// Join suspends the calling fiber until f completes, returning its
// [Exit] outcome folded back into a Computation. If the calling fiber is
// itself interrupted while joining, Join interrupts f and keeps waiting
// until f actually finishes before returning, so Join never reports
// completion while f's own goroutine is still running.
func Join[R, E, A any](f *Fiber[E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return f.Await(ec.goctx)
	}}
}
