package flux

// FiberLocal is a value scoped to one fiber, inherited by children at the
// moment they are forked and independent of the parent after that: a
// child's [FiberLocalSet] is invisible to its parent, and a parent's
// later [FiberLocalSet] is invisible to children already forked. This is
// the same copy-at-fork-point semantics [Fork] already applies to the
// fiber-local map as a whole; FiberLocal just gives a typed, tag-like
// handle onto one entry in it, the way [Tag] does for [Context].
type FiberLocal[A any] struct {
	key     *byte
	initial A
}

// NewFiberLocal creates a fresh FiberLocal reporting initial until a
// fiber calls [FiberLocalSet].
func NewFiberLocal[A any](initial A) FiberLocal[A] {
	return FiberLocal[A]{key: new(byte), initial: initial}
}

// FiberLocalGet reads the calling fiber's value for fl, or fl's initial
// value if it was never set on this fiber or any ancestor it forked from.
func FiberLocalGet[R, A any](fl FiberLocal[A]) Computation[R, Never, A] {
	return Computation[R, Never, A]{run: func(ec *execCtx) Exit[Never, A] {
		if v, ok := ec.fiber.locals.get(fl.key); ok {
			return Succeeded[Never, A](v.(A))
		}
		return Succeeded[Never, A](fl.initial)
	}}
}

// FiberLocalSet sets the calling fiber's value for fl.
func FiberLocalSet[R, A any](fl FiberLocal[A], v A) Computation[R, Never, struct{}] {
	return Computation[R, Never, struct{}]{run: func(ec *execCtx) Exit[Never, struct{}] {
		ec.fiber.locals.set(fl.key, v)
		return Succeeded[Never, struct{}](struct{}{})
	}}
}
