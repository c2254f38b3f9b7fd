package flux

import (
	"fmt"
	"strings"
)

// causeKind tags the leaves and internal nodes of a [Cause] tree.
type causeKind int

const (
	// causeEmpty is the zero value: a neutral cause carrying no failure,
	// defect, or interrupt. It lets a zero-valued Cause[E] (e.g. from a
	// successful Exit's CauseOrEmpty) combine into Then/Both trees without
	// being mistaken for a Fail(zero E).
	causeEmpty causeKind = iota
	causeFail
	causeDie
	causeInterrupt
	causeThen
	causeBoth
	causeAnnotated
)

// FiberID identifies a fiber. It is monotonic within a single [Runtime].
type FiberID int64

// Cause is a composable tree describing how and why a computation ended
// abnormally. Leaves are [NewFail], [NewDie], and [NewInterrupt]; internal
// nodes are [Then] (sequential: right arose after left), [Both]
// (concurrent: both arose independently), and [Annotate] (a note attached
// to an inner cause, transparent to every kind query).
//
type Cause[E any] struct {
	kind  causeKind
	err   E
	hasE  bool
	die   any
	fiber *FiberID
	left  *Cause[E]
	right *Cause[E]
	note  string
}

// NewFail builds a leaf cause for a typed, expected failure.
func NewFail[E any](e E) Cause[E] {
	return Cause[E]{kind: causeFail, err: e, hasE: true}
}

// NewDie builds a leaf cause for an unexpected defect (a bug, a recovered
// panic, an untyped exception from a foreign future).
func NewDie[E any](defect any) Cause[E] {
	return Cause[E]{kind: causeDie, die: defect}
}

// NewInterrupt builds a leaf cause for cooperative cancellation, optionally
// attributing it to the fiber that requested it.
func NewInterrupt[E any](by *FiberID) Cause[E] {
	return Cause[E]{kind: causeInterrupt, fiber: by}
}

// Empty returns the neutral cause: no failure, no defect, no interrupt. It
// is the zero value of Cause[E] and exists mainly so combinators reading
// "no cause yet" can still be threaded through [Then] and [Both].
func Empty[E any]() Cause[E] { return Cause[E]{} }

// IsEmpty reports whether cause carries no failure, defect, or interrupt
// anywhere in its tree.
func (c Cause[E]) IsEmpty() bool {
	switch c.kind {
	case causeEmpty:
		return true
	case causeAnnotated:
		return c.left.IsEmpty()
	case causeThen, causeBoth:
		return c.left.IsEmpty() && c.right.IsEmpty()
	default:
		return false
	}
}

// Then sequences two causes: right arose causally after left (e.g. a
// finalizer failed after the main computation already had a cause).
func Then[E any](left, right Cause[E]) Cause[E] {
	return Cause[E]{kind: causeThen, left: &left, right: &right}
}

// Both combines two causes that arose independently and concurrently.
func Both[E any](left, right Cause[E]) Cause[E] {
	return Cause[E]{kind: causeBoth, left: &left, right: &right}
}

// Annotate attaches a contextual note to inner. Annotations are transparent
// to [Cause.IsFail], [Cause.IsDie], and [Cause.IsInterrupt].
func Annotate[E any](inner Cause[E], note string) Cause[E] {
	return Cause[E]{kind: causeAnnotated, left: &inner, note: note}
}

// IsFail reports whether cause contains a [NewFail] leaf, looking through
// annotations.
func (c Cause[E]) IsFail() bool { return c.hasKind(causeFail) }

// IsDie reports whether cause contains a [NewDie] leaf.
func (c Cause[E]) IsDie() bool { return c.hasKind(causeDie) }

// IsInterrupt reports whether cause contains a [NewInterrupt] leaf.
func (c Cause[E]) IsInterrupt() bool { return c.hasKind(causeInterrupt) }

func (c Cause[E]) hasKind(k causeKind) bool {
	switch c.kind {
	case causeFail, causeDie, causeInterrupt:
		return c.kind == k
	case causeAnnotated:
		return c.left.hasKind(k)
	case causeThen, causeBoth:
		return c.left.hasKind(k) || c.right.hasKind(k)
	default:
		return false
	}
}

// FailureValue returns the first typed failure found in cause (depth-first,
// left-biased) and true, or the zero value and false if none exists.
func (c Cause[E]) FailureValue() (E, bool) {
	switch c.kind {
	case causeFail:
		return c.err, true
	case causeAnnotated:
		return c.left.FailureValue()
	case causeThen, causeBoth:
		if v, ok := c.left.FailureValue(); ok {
			return v, true
		}
		return c.right.FailureValue()
	default:
		var zero E
		return zero, false
	}
}

// DefectValue returns the first defect found in cause, or nil if none.
func (c Cause[E]) DefectValue() any {
	switch c.kind {
	case causeDie:
		return c.die
	case causeAnnotated:
		return c.left.DefectValue()
	case causeThen, causeBoth:
		if d := c.left.DefectValue(); d != nil {
			return d
		}
		return c.right.DefectValue()
	default:
		return nil
	}
}

// Fold walks every leaf of cause, invoking onFail, onDie, or onInterrupt as
// appropriate. Annotated and internal nodes are traversed transparently.
func (c Cause[E]) Fold(onFail func(E), onDie func(any), onInterrupt func(*FiberID)) {
	switch c.kind {
	case causeFail:
		onFail(c.err)
	case causeDie:
		onDie(c.die)
	case causeInterrupt:
		onInterrupt(c.fiber)
	case causeAnnotated:
		c.left.Fold(onFail, onDie, onInterrupt)
	case causeThen, causeBoth:
		c.left.Fold(onFail, onDie, onInterrupt)
		c.right.Fold(onFail, onDie, onInterrupt)
	}
}

// Squash collapses cause to a single representative error value: the first
// typed failure rendered as an error, else the first defect rendered as an
// error, else a generic interruption error.
func (c Cause[E]) Squash() error {
	if v, ok := c.FailureValue(); ok {
		return fmt.Errorf("%v", v)
	}
	if d := c.DefectValue(); d != nil {
		if err, ok := d.(error); ok {
			return err
		}
		return fmt.Errorf("defect: %v", d)
	}
	if c.IsInterrupt() {
		return errInterrupted
	}
	return fmt.Errorf("empty cause")
}

var errInterrupted = fmt.Errorf("flux: interrupted")

// PrettyRender renders cause as an indented tree, including annotations.
func (c Cause[E]) PrettyRender() string {
	var b strings.Builder
	c.render(&b, "")
	return b.String()
}

func (c Cause[E]) render(b *strings.Builder, indent string) {
	switch c.kind {
	case causeFail:
		fmt.Fprintf(b, "%sFail(%v)\n", indent, c.err)
	case causeDie:
		fmt.Fprintf(b, "%sDie(%v)\n", indent, c.die)
	case causeInterrupt:
		if c.fiber != nil {
			fmt.Fprintf(b, "%sInterrupt(fiber=%d)\n", indent, *c.fiber)
		} else {
			fmt.Fprintf(b, "%sInterrupt\n", indent)
		}
	case causeAnnotated:
		fmt.Fprintf(b, "%s@ %s\n", indent, c.note)
		c.left.render(b, indent)
	case causeThen:
		fmt.Fprintf(b, "%sThen:\n", indent)
		c.left.render(b, indent+"  ")
		c.right.render(b, indent+"  ")
	case causeBoth:
		fmt.Fprintf(b, "%sBoth:\n", indent)
		c.left.render(b, indent+"  ")
		c.right.render(b, indent+"  ")
	}
}

// coerceNoFail reinterprets a cause known to carry no typed failure leaf
// under a different failure type. It panics if that invariant turns out to
// be false — a bug in the caller, not a condition callers should handle.
func coerceNoFail[E, E2 any](c Cause[E]) Cause[E2] {
	return mapCauseFail(c, func(E) E2 {
		panic("flux: coerceNoFail given a cause carrying a typed failure")
	})
}

// mapCauseFail transforms the typed-failure payload carried by cause, leaving
// defects and interrupts untouched. Used by MapError.
func mapCauseFail[E, E2 any](c Cause[E], f func(E) E2) Cause[E2] {
	switch c.kind {
	case causeFail:
		return NewFail(f(c.err))
	case causeDie:
		return Cause[E2]{kind: causeDie, die: c.die}
	case causeInterrupt:
		return Cause[E2]{kind: causeInterrupt, fiber: c.fiber}
	case causeAnnotated:
		inner := mapCauseFail(*c.left, f)
		return Annotate(inner, c.note)
	case causeThen:
		return Then(mapCauseFail(*c.left, f), mapCauseFail(*c.right, f))
	case causeBoth:
		return Both(mapCauseFail(*c.left, f), mapCauseFail(*c.right, f))
	default:
		var zero Cause[E2]
		return zero
	}
}
