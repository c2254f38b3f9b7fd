package flux

import (
	"context"
	"errors"
	"time"

	"github.com/nodelift/flux/internal/data"
)

// Never is the marker type used as E when a Computation is statically known
// never to produce a typed failure — the result of total-recovery operators
// like [Fold] and the required shape of finalizers passed to [Ensuring],
// [OnError], and [AcquireRelease]. A Never-typed Computation may still Die
// or be interrupted; it simply has no Fail leaf.
type Never struct{}

// Computation is a lazily-evaluated, environment-parameterized description
// of work: R is the environment it requires, E the typed failure it may
// produce, and A the value it produces on success. Building a Computation
// has no side effects; only running it through a [Runtime] does.
//
// R is a phantom type parameter: it exists so [Service] and [Provide] type
// check the dependency graph at compile time, but nothing in the run
// function touches it directly.
//
// Panics raised while running a Computation are recovered into a [Cause]
// defect via [guardRun], so a misbehaving callback ends its fiber instead
// of crashing the process.
type Computation[R, E, A any] struct {
	run func(ec *execCtx) Exit[E, A]
}

// execCtx is the environment threaded through every Computation.run call.
// It is never exposed outside the package; callers reach its pieces
// through [Service], [Provide], [Uninterruptible], and the Scope/Runtime
// that own a given evaluation.
type execCtx struct {
	goctx context.Context
	env   *Context
	scope *Scope
	rt    *Runtime
	fiber *fiberHandle
}

func (ec execCtx) withGoContext(ctx context.Context) *execCtx {
	sub := ec
	sub.goctx = ctx
	return &sub
}

func (ec execCtx) withScope(s *Scope) *execCtx {
	sub := ec
	sub.scope = s
	return &sub
}

func (ec execCtx) withEnv(env *Context) *execCtx {
	sub := ec
	sub.env = env
	return &sub
}

// guardRun recovers any panic raised while evaluating fn into a [NewDie]
// defect. Every constructor that invokes user-supplied closures runs them
// through guardRun so a misbehaving callback ends a Computation with a
// Die, never a process-level panic.
func guardRun[E, A any](fn func() Exit[E, A]) (result Exit[E, A]) {
	defer func() {
		if r := recover(); r != nil {
			result = Failed[E, A](newPanicDefect[E](r))
		}
	}()
	return fn()
}

// Succeed lifts a is-already-known value into a successful Computation.
func Succeed[R, E, A any](a A) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return Succeeded[E, A](a)
	}}
}

// Fail lifts a typed error value into a failing Computation.
func Fail[R, E, A any](e E) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return Failed[E, A](NewFail(e))
	}}
}

// FailCause lifts an already-built Cause into a Computation, preserving
// whatever tree of Fail/Die/Interrupt/Then/Both nodes it carries.
func FailCause[R, E, A any](c Cause[E]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return Failed[E, A](c)
	}}
}

// Die lifts an unexpected defect into a failing Computation.
func Die[R, E, A any](defect any) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return Failed[E, A](NewDie[E](defect))
	}}
}

// Interrupted builds a Computation that is already cancelled.
func Interrupted[R, E, A any]() Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return Failed[E, A](NewInterrupt[E](nil))
	}}
}

// Sync lifts a total, side-effecting function that cannot itself fail.
// A panic inside f becomes a Die, not a typed failure.
func Sync[R, E, A any](f func() A) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return guardRun(func() Exit[E, A] {
			return Succeeded[E, A](f())
		})
	}}
}

// Attempt lifts a function that may return a Go error, turning that error
// into a typed failure. A panic inside f becomes a Die.
func Attempt[R, A any](f func() (A, error)) Computation[R, error, A] {
	return Computation[R, error, A]{run: func(ec *execCtx) Exit[error, A] {
		return guardRun(func() Exit[error, A] {
			v, err := f()
			if err != nil {
				return Failed[error, A](NewFail(err))
			}
			return Succeeded[error, A](v)
		})
	}}
}

// FromFuture adapts a foreign, context-aware async call (an HTTP client, a
// database driver, anything shaped like Go's usual `func(context.Context)
// (A, error)`) into a Computation. A context.Canceled or
// context.DeadlineExceeded error is reported as an interrupt rather than a
// typed failure, since it originates from this Computation's own
// cancellation signal rather than the callee's domain logic.
func FromFuture[R, A any](f func(ctx context.Context) (A, error)) Computation[R, error, A] {
	return Computation[R, error, A]{run: func(ec *execCtx) Exit[error, A] {
		return guardRun(func() Exit[error, A] {
			v, err := f(ec.goctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return Failed[error, A](NewInterrupt[error](nil))
				}
				return Failed[error, A](NewFail(err))
			}
			return Succeeded[error, A](v)
		})
	}}
}

// Map transforms a successful result, leaving a failure cause untouched.
// Implemented as a free function, not a method, because Go forbids a
// generic method from introducing a type parameter (B) beyond the
// receiver's own R, E, A.
func Map[R, E, A, B any](comp Computation[R, E, A], f func(A) B) Computation[R, E, B] {
	return Computation[R, E, B]{run: func(ec *execCtx) Exit[E, B] {
		exit := comp.run(ec)
		a, ok := exit.Value()
		if !ok {
			return Failed[E, B](exit.CauseOrEmpty())
		}
		return guardRun(func() Exit[E, B] {
			return Succeeded[E, B](f(a))
		})
	}}
}

// MapError transforms a typed failure, leaving defects, interrupts, and
// successes untouched.
func MapError[R, E, A, E2 any](comp Computation[R, E, A], f func(E) E2) Computation[R, E2, A] {
	return Computation[R, E2, A]{run: func(ec *execCtx) Exit[E2, A] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			v, _ := exit.Value()
			return Succeeded[E2, A](v)
		}
		cause, _ := exit.Cause()
		return guardRun(func() Exit[E2, A] {
			return Failed[E2, A](mapCauseFail(cause, f))
		})
	}}
}

// FlatMap sequences comp with a continuation that depends on its result.
// Cancellation is observed at this sequencing boundary: if the governing
// context has been cancelled by the time comp completes, the continuation
// never runs and an interrupt is reported instead. This mirrors the
// design note that cancellation is checked at suspension points, not
// pre-emptively between every pure step.
func FlatMap[R, E, A, B any](comp Computation[R, E, A], f func(A) Computation[R, E, B]) Computation[R, E, B] {
	return Computation[R, E, B]{run: func(ec *execCtx) Exit[E, B] {
		exit := comp.run(ec)
		a, ok := exit.Value()
		if !ok {
			return Failed[E, B](exit.CauseOrEmpty())
		}
		if ec.goctx.Err() != nil {
			return Failed[E, B](NewInterrupt[E](nil))
		}
		return guardRun(func() Exit[E, B] {
			return f(a).run(ec)
		})
	}}
}

// Pair is a minimal product type returned by [Zip]. It is not a
// general-purpose tuple package; it exists solely to give Zip a result
// type without adding a broader optional/either/result API to the
// public surface.
type Pair[A, B any] struct {
	First  A
	Second B
}

// ZipWith runs ca, then cb, combining their results with f. Use [ZipPar]
// in parallel.go for the concurrent variant.
func ZipWith[R, E, A, B, C any](ca Computation[R, E, A], cb Computation[R, E, B], f func(A, B) C) Computation[R, E, C] {
	return FlatMap(ca, func(a A) Computation[R, E, C] {
		return Map(cb, func(b B) C { return f(a, b) })
	})
}

// Zip runs ca, then cb, pairing their results.
func Zip[R, E, A, B any](ca Computation[R, E, A], cb Computation[R, E, B]) Computation[R, E, Pair[A, B]] {
	return ZipWith(ca, cb, func(a A, b B) Pair[A, B] { return Pair[A, B]{First: a, Second: b} })
}

// CatchAll recovers from a typed failure by running handler with the
// failure value. Defects and interrupts are not typed failures and pass
// through unchanged, coerced to the new failure type E2 (which is always
// safe: a cause with no Fail leaf has nothing to coerce).
func CatchAll[R, E, A, E2 any](comp Computation[R, E, A], handler func(E) Computation[R, E2, A]) Computation[R, E2, A] {
	return Computation[R, E2, A]{run: func(ec *execCtx) Exit[E2, A] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			v, _ := exit.Value()
			return Succeeded[E2, A](v)
		}
		cause, _ := exit.Cause()
		if fv, ok := cause.FailureValue(); ok {
			return guardRun(func() Exit[E2, A] {
				return handler(fv).run(ec)
			})
		}
		return Failed[E2, A](coerceNoFail[E, E2](cause))
	}}
}

// RefineOrDie narrows comp's failure type with p: when p matches the
// failure value, the result fails with the narrowed value p returns;
// when it does not, the original failure falls outside the subset the
// caller declared itself able to handle and is promoted to a defect via
// [NewDie] instead of being propagated as a typed failure.
func RefineOrDie[R, E, A, E2 any](comp Computation[R, E, A], p func(E) (E2, bool)) Computation[R, E2, A] {
	return Computation[R, E2, A]{run: func(ec *execCtx) Exit[E2, A] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			v, _ := exit.Value()
			return Succeeded[E2, A](v)
		}
		cause, _ := exit.Cause()
		if fv, ok := cause.FailureValue(); ok {
			if narrowed, matched := p(fv); matched {
				return Failed[E2, A](NewFail(narrowed))
			}
			return Failed[E2, A](NewDie[E2](fv))
		}
		return Failed[E2, A](coerceNoFail[E, E2](cause))
	}}
}

// Fold collapses both branches of comp into a pure value B, producing a
// Computation that can no longer fail with a typed error (its failure
// type is [Never]). Defects and interrupts still propagate, coerced onto
// Never, since there is no failure value to hand to onFailure for them.
func Fold[R, E, A, B any](comp Computation[R, E, A], onFailure func(E) B, onSuccess func(A) B) Computation[R, Never, B] {
	return Computation[R, Never, B]{run: func(ec *execCtx) Exit[Never, B] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			v, _ := exit.Value()
			return guardRun(func() Exit[Never, B] {
				return Succeeded[Never, B](onSuccess(v))
			})
		}
		cause, _ := exit.Cause()
		if fv, ok := cause.FailureValue(); ok {
			return guardRun(func() Exit[Never, B] {
				return Succeeded[Never, B](onFailure(fv))
			})
		}
		return Failed[Never, B](coerceNoFail[E, Never](cause))
	}}
}

// FoldEffect is the effectful generalization of [Fold]: both branches
// produce a new Computation rather than a pure value, and the result may
// fail with a different typed error E2.
func FoldEffect[R, E, A, E2, B any](comp Computation[R, E, A], onFailure func(E) Computation[R, E2, B], onSuccess func(A) Computation[R, E2, B]) Computation[R, E2, B] {
	return Computation[R, E2, B]{run: func(ec *execCtx) Exit[E2, B] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			v, _ := exit.Value()
			return guardRun(func() Exit[E2, B] {
				return onSuccess(v).run(ec)
			})
		}
		cause, _ := exit.Cause()
		if fv, ok := cause.FailureValue(); ok {
			return guardRun(func() Exit[E2, B] {
				return onFailure(fv).run(ec)
			})
		}
		return Failed[E2, B](coerceNoFail[E, E2](cause))
	}}
}

// Ensuring runs finalizer after comp completes, regardless of outcome,
// folding any cause the finalizer itself raises into the result via
// [Then]. Unlike [AcquireRelease], the finalizer runs inline rather than
// being deferred to a [Scope]'s close.
func Ensuring[R, E, A any](comp Computation[R, E, A], finalizer Computation[R, Never, struct{}]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		exit := guardRun(func() Exit[E, A] { return comp.run(ec) })
		finExit := guardRun(func() Exit[Never, struct{}] { return finalizer.run(ec) })
		if finExit.IsFailure() {
			fc, _ := finExit.Cause()
			return Failed[E, A](Then(exit.CauseOrEmpty(), coerceNoFail[Never, E](fc)))
		}
		return exit
	}}
}

// OnError runs handler with comp's cause whenever comp fails, for logging
// or cleanup side effects. The handler's own result is folded into the
// final cause via [Then] only if the handler itself fails.
func OnError[R, E, A any](comp Computation[R, E, A], handler func(Cause[E]) Computation[R, Never, struct{}]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		exit := comp.run(ec)
		if exit.IsSuccess() {
			return exit
		}
		cause, _ := exit.Cause()
		finExit := guardRun(func() Exit[Never, struct{}] {
			return handler(cause).run(ec)
		})
		if finExit.IsFailure() {
			fc, _ := finExit.Cause()
			return Failed[E, A](Then(cause, coerceNoFail[Never, E](fc)))
		}
		return exit
	}}
}

// OnInterrupt runs handler only when comp's cause is an interrupt.
func OnInterrupt[R, E, A any](comp Computation[R, E, A], handler Computation[R, Never, struct{}]) Computation[R, E, A] {
	return OnError(comp, func(c Cause[E]) Computation[R, Never, struct{}] {
		if c.IsInterrupt() {
			return handler
		}
		return Succeed[R, Never, struct{}](struct{}{})
	})
}

// AcquireRelease runs acquire uninterruptibly and, on success, registers
// release(value) as a finalizer on the nearest enclosing [Scope] — it
// fires when that scope closes, not inline after acquire returns. If
// acquire fails or there is no enclosing scope to register against
// (comp was run outside any Scope), no finalizer is registered.
//
// release runs uninterruptibly: even if release itself is a multi-step
// Computation (FlatMap chains included), it always runs every step to
// completion rather than being truncated by [FlatMap]'s cancellation check
// partway through. [Scope.Close] already hands finalizers an
// uncancellable context; wrapping release here too keeps that guarantee
// explicit at the one call site that exists specifically to clean up a
// resource.
func AcquireRelease[R, E, A any](acquire Computation[R, E, A], release func(A) Computation[R, Never, struct{}]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		exit := Uninterruptible(acquire).run(ec)
		v, ok := exit.Value()
		if !ok || ec.scope == nil {
			return exit
		}
		capturedEc := *ec
		ec.scope.AddFinalizer(func(finCtx context.Context) error {
			finExit := Uninterruptible(release(v)).run(capturedEc.withGoContext(finCtx))
			if finExit.IsFailure() {
				fc, _ := finExit.Cause()
				return fc.Squash()
			}
			return nil
		})
		return exit
	}}
}

// Uninterruptible runs comp with cancellation signals suppressed: comp's
// own goroutine-local context never reports Done during its evaluation.
// Any outstanding cancellation is still observed by the caller once comp
// returns, at the next [FlatMap] boundary: this region only delays
// interruption, it does not swallow it.
func Uninterruptible[R, E, A any](comp Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return comp.run(ec.withGoContext(context.WithoutCancel(ec.goctx)))
	}}
}

// Restore re-admits the cancellation signal that was in effect before a
// [Mask] region suppressed it, for exactly the Computation it wraps via
// [RestoreApply].
type Restore struct {
	outer context.Context
}

// RestoreApply runs inner with the outer (possibly cancellable) context
// captured by r, re-enabling interruption inside an otherwise
// uninterruptible [Mask] region.
func RestoreApply[R, E, A any](r Restore, inner Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		return inner.run(ec.withGoContext(r.outer))
	}}
}

// Mask builds an uninterruptible region and hands region a [Restore] that
// can re-admit cancellation for chosen sub-computations.
func Mask[R, E, A any](region func(restore Restore) Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		restore := Restore{outer: ec.goctx}
		inner := region(restore)
		return inner.run(ec.withGoContext(context.WithoutCancel(ec.goctx)))
	}}
}

// Labeled annotates any failure cause produced by comp with note, visible
// in [Cause.PrettyRender] and unwound by [Cause.Fold]/[Cause.IsFail] etc.
// transparently.
func Labeled[R, E, A any](comp Computation[R, E, A], note string) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		exit := comp.run(ec)
		if exit.IsFailure() {
			cause, _ := exit.Cause()
			return Failed[E, A](Annotate(cause, note))
		}
		return exit
	}}
}

// Service reads a dependency of type A out of the environment by tag. A
// missing service is a defect (Die), not a typed failure.
func Service[R, A any](tag Tag[A]) Computation[R, Never, A] {
	return Computation[R, Never, A]{run: func(ec *execCtx) Exit[Never, A] {
		return guardRun(func() Exit[Never, A] {
			return Succeeded[Never, A](ContextGet(ec.env, tag))
		})
	}}
}

// ServiceOptional reads a dependency of type A out of the environment by
// tag without panicking if it is absent, for callers that treat a
// missing service as "use a default" rather than a defect.
func ServiceOptional[R, A any](tag Tag[A]) Computation[R, Never, data.Option[A]] {
	return Computation[R, Never, data.Option[A]]{run: func(ec *execCtx) Exit[Never, data.Option[A]] {
		if v, ok := ContextLookup(ec.env, tag); ok {
			return Succeeded[Never, data.Option[A]](data.Some(v))
		}
		return Succeeded[Never, data.Option[A]](data.None[A]())
	}}
}

// Environment returns the computation's current service container as a
// value, for code that needs to pass it on to something outside the
// Computation algebra (a background goroutine, an external SDK).
func Environment[R any]() Computation[R, Never, *Context] {
	return Computation[R, Never, *Context]{run: func(ec *execCtx) Exit[Never, *Context] {
		return Succeeded[Never, *Context](ec.env)
	}}
}

// GoContext returns the computation's current cancellation context, for
// bridging into APIs (OpenTelemetry, database drivers) that expect a
// plain context.Context rather than a Computation.
func GoContext[R any]() Computation[R, Never, context.Context] {
	return Computation[R, Never, context.Context]{run: func(ec *execCtx) Exit[Never, context.Context] {
		return Succeeded[Never, context.Context](ec.goctx)
	}}
}

// Provide eliminates comp's environment requirement by baking env in:
// comp runs with env in place of the caller's environment, while the
// rest of the execution context (cancellation, scope, fiber) is the
// caller's.
func Provide[R, E, A any](comp Computation[R, E, A], env *Context) Computation[any, E, A] {
	return Computation[any, E, A]{run: func(ec *execCtx) Exit[E, A] {
		sub := *ec
		sub.env = env
		return comp.run(&sub)
	}}
}

// Timeout races comp against a d-long timer. If comp completes first, its
// result is reported as present; if the timer fires first, comp is
// interrupted and Timeout reports an absent result rather than failing —
// a caller that wants timeout to be a typed failure should compose with
// [FoldEffect] or [CatchAll] over the returned Option. If the governing
// context is itself cancelled first, Timeout reports an interrupt.
func Timeout[R, E, A any](comp Computation[R, E, A], d time.Duration) Computation[R, E, data.Option[A]] {
	return Computation[R, E, data.Option[A]]{run: func(ec *execCtx) Exit[E, data.Option[A]] {
		fiber := fork(ec, comp)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-fiber.Done():
			exit := fiber.Result()
			if exit.IsSuccess() {
				v, _ := exit.Value()
				return Succeeded[E, data.Option[A]](data.Some(v))
			}
			return Failed[E, data.Option[A]](exit.CauseOrEmpty())
		case <-timer.C:
			fiber.Interrupt()
			<-fiber.Done()
			return Succeeded[E, data.Option[A]](data.None[A]())
		case <-ec.goctx.Done():
			fiber.Interrupt()
			<-fiber.Done()
			return Failed[E, data.Option[A]](NewInterrupt[E](nil))
		}
	}}
}
