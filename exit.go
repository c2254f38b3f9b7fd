package flux

// Exit is the tagged outcome of running a [Computation]: a success value
// or a [Cause] describing the abnormal ending.
type Exit[E, A any] struct {
	ok    bool
	value A
	cause Cause[E]
}

// Succeeded builds a successful [Exit].
func Succeeded[E, A any](a A) Exit[E, A] {
	return Exit[E, A]{ok: true, value: a}
}

// Failed builds a failed [Exit] from a [Cause].
func Failed[E, A any](c Cause[E]) Exit[E, A] {
	return Exit[E, A]{ok: false, cause: c}
}

// IsSuccess reports whether the exit is a success.
func (e Exit[E, A]) IsSuccess() bool { return e.ok }

// IsFailure reports whether the exit is a failure.
func (e Exit[E, A]) IsFailure() bool { return !e.ok }

// Value returns the success value and true, or the zero value and false.
func (e Exit[E, A]) Value() (A, bool) { return e.value, e.ok }

// Cause returns the failure cause and true, or a zero cause and false.
func (e Exit[E, A]) Cause() (Cause[E], bool) {
	if e.ok {
		var zero Cause[E]
		return zero, false
	}
	return e.cause, true
}

// CauseOrEmpty returns the exit's cause if it failed, or [Empty] if it
// succeeded. Used by combinators such as Ensuring that need to fold a
// finalizer's cause into the main result regardless of whether the main
// computation itself failed.
func (e Exit[E, A]) CauseOrEmpty() Cause[E] {
	if e.ok {
		return Empty[E]()
	}
	return e.cause
}

// ExitFold applies onCause or onValue depending on the exit's tag,
// returning a value of a possibly different type B. It is the total,
// programmatic way to inspect an Exit without a type switch.
func ExitFold[E, A, B any](e Exit[E, A], onCause func(Cause[E]) B, onValue func(A) B) B {
	if e.ok {
		return onValue(e.value)
	}
	return onCause(e.cause)
}

// MapExit transforms the success value of e, leaving a failure untouched.
func MapExit[E, A, B any](e Exit[E, A], f func(A) B) Exit[E, B] {
	if e.ok {
		return Succeeded[E, B](f(e.value))
	}
	return Failed[E, B](e.cause)
}
