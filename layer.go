package flux

// Layer describes how to build a set of services (a *[Context] of
// additions) and, via [AcquireRelease] inside its build computation, how
// to tear them down when the enclosing [Scope] closes. A Layer is not
// parameterized by an environment requirement R the way [Computation] is:
// any dependency a layer has on services built by an earlier layer is
// expressed by reading the current env inside its build step, which
// [Layer.Then] arranges to already contain the first layer's output.
// "Release" is just whatever finalizers the build computation registers
// via [AcquireRelease], not a separately stored callback.
type Layer[E any] struct {
	acquire func(ec *execCtx) Exit[E, *Context]
}

// LayerFromComputation wraps a Computation that produces the services to
// add into a Layer. R is discarded: like [Computation] itself, the
// stored run function never references it, so this is a relabeling, not
// a runtime conversion.
func LayerFromComputation[R, E any](comp Computation[R, E, *Context]) Layer[E] {
	return Layer[E]{acquire: comp.run}
}

// LayerSucceed builds a Layer that always succeeds with the given
// service context, useful for supplying a fixed or pre-built value.
func LayerSucceed[E any](ctx *Context) Layer[E] {
	return Layer[E]{acquire: func(ec *execCtx) Exit[E, *Context] {
		return Succeeded[E, *Context](ctx)
	}}
}

// LayerFail builds a Layer whose construction always fails with e.
func LayerFail[E any](e E) Layer[E] {
	return Layer[E]{acquire: func(ec *execCtx) Exit[E, *Context] {
		return Failed[E, *Context](NewFail(e))
	}}
}

func (l Layer[E]) asComputation() Computation[any, E, *Context] {
	return Computation[any, E, *Context]{run: l.acquire}
}

// Then builds l, makes its output visible to next's build step by
// merging it into the environment, then builds next. The final context
// merges both outputs, next's services winning on key conflict — the
// later layer in a sequential chain shadows the earlier one, the same
// rule [Layer.And] uses for concurrent composition.
func (l Layer[E]) Then(next Layer[E]) Layer[E] {
	return Layer[E]{acquire: func(ec *execCtx) Exit[E, *Context] {
		firstExit := l.acquire(ec)
		firstCtx, ok := firstExit.Value()
		if !ok {
			return firstExit
		}
		nextEc := ec.withEnv(MergeContext(ec.env, firstCtx))
		secondExit := next.acquire(nextEc)
		secondCtx, ok := secondExit.Value()
		if !ok {
			return Failed[E, *Context](secondExit.CauseOrEmpty())
		}
		return Succeeded[E, *Context](MergeContext(firstCtx, secondCtx))
	}}
}

// And builds l and other concurrently, cancelling whichever is still
// building as soon as the other fails, and merges their outputs with
// other's services winning on key conflict: an arbitrary but fixed
// "right wins" tie-break, since neither side can be said to depend on
// the other when they run in parallel.
func (l Layer[E]) And(other Layer[E]) Layer[E] {
	return Layer[E]{acquire: func(ec *execCtx) Exit[E, *Context] {
		// Each side builds on its own fiber but registers its finalizers on
		// ec's scope, so the built services outlive the build fibers.
		onParentScope := func(layer Layer[E]) Computation[any, E, *Context] {
			return Computation[any, E, *Context]{run: func(fec *execCtx) Exit[E, *Context] {
				if ec.scope != nil {
					fec = fec.withScope(ec.scope)
				}
				return layer.acquire(fec)
			}}
		}
		fa := fork(ec, onParentScope(l))
		fb := fork(ec, onParentScope(other))

		var exitA, exitB Exit[E, *Context]
		aDone, bDone := fa.Done(), fb.Done()
		for aDone != nil || bDone != nil {
			select {
			case <-aDone:
				exitA = fa.Result()
				aDone = nil
				if exitA.IsFailure() && bDone != nil {
					fb.Interrupt()
				}
			case <-bDone:
				exitB = fb.Result()
				bDone = nil
				if exitB.IsFailure() && aDone != nil {
					fa.Interrupt()
				}
			}
		}
		if exitA.IsSuccess() && exitB.IsSuccess() {
			ca, _ := exitA.Value()
			cb, _ := exitB.Value()
			return Succeeded[E, *Context](MergeContext(ca, cb))
		}
		return Failed[E, *Context](Both(exitA.CauseOrEmpty(), exitB.CauseOrEmpty()))
	}}
}

// BuildLayer runs layer's build step in the current scope and returns the
// raw context of services it produced, without merging it into anything.
// Most callers want [ProvideLayer] instead.
func BuildLayer[E any](layer Layer[E]) Computation[any, E, *Context] {
	return layer.asComputation()
}

// ProvideLayer builds layer, merges its output over comp's current
// environment, and runs comp with that merged environment. Any
// [AcquireRelease] finalizers layer's build registered fire when the
// enclosing scope of this Computation closes, not when ProvideLayer
// itself returns — the layer's services stay alive for comp's entire
// run.
func ProvideLayer[R, E, A any](comp Computation[R, E, A], layer Layer[E]) Computation[any, E, A] {
	return Computation[any, E, A]{run: func(ec *execCtx) Exit[E, A] {
		layerExit := layer.acquire(ec)
		built, ok := layerExit.Value()
		if !ok {
			return Failed[E, A](layerExit.CauseOrEmpty())
		}
		return comp.run(ec.withEnv(MergeContext(ec.env, built)))
	}}
}

// ProvideScoped builds layer in a scope of its own, merges its output
// over comp's current environment, and runs comp under that scope. The
// scope closes as soon as comp completes, so layer's finalizers fire
// right then rather than waiting on whatever ambient scope encloses this
// operation, the way [ProvideLayer] does. Use ProvideScoped when a
// layer's services should live for exactly one operation's duration.
func ProvideScoped[R, E, A any](comp Computation[R, E, A], layer Layer[E]) Computation[any, E, A] {
	return Computation[any, E, A]{run: func(ec *execCtx) Exit[E, A] {
		scoped := NewScope()
		layerExit := layer.acquire(ec.withScope(scoped))
		built, ok := layerExit.Value()
		if !ok {
			scoped.Close(ec.goctx)
			return Failed[E, A](layerExit.CauseOrEmpty())
		}
		runEc := ec.withEnv(MergeContext(ec.env, built)).withScope(scoped)
		exit := comp.run(runEc)
		scoped.Close(ec.goctx)
		return exit
	}}
}
