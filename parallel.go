package flux

import (
	"context"
	"reflect"
)

// ZipPar runs ca and cb concurrently and pairs their results. If either
// fails, the other is interrupted as soon as the failure is observed;
// if both fail, their causes are combined with [Both] since they arose
// independently.
func ZipPar[R, E, A, B any](ca Computation[R, E, A], cb Computation[R, E, B]) Computation[R, E, Pair[A, B]] {
	return Computation[R, E, Pair[A, B]]{run: func(ec *execCtx) Exit[E, Pair[A, B]] {
		fa := fork(ec, ca)
		fb := fork(ec, cb)

		var exitA Exit[E, A]
		var exitB Exit[E, B]
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
			a, _ := exitA.Value()
			b, _ := exitB.Value()
			return Succeeded[E, Pair[A, B]](Pair[A, B]{First: a, Second: b})
		}
		return Failed[E, Pair[A, B]](Both(exitA.CauseOrEmpty(), exitB.CauseOrEmpty()))
	}}
}

// Race runs a and b concurrently and returns the first to succeed. If one
// fails before the other finishes, Race keeps waiting on the survivor
// rather than failing immediately — only once both have failed does Race
// report their combined cause.
func Race[R, E, A any](a, b Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		fa := fork(ec, a)
		fb := fork(ec, b)

		var exitA, exitB Exit[E, A]
		var haveA, haveB bool
		aDone, bDone := fa.Done(), fb.Done()
		for aDone != nil || bDone != nil {
			select {
			case <-aDone:
				exitA, haveA = fa.Result(), true
				aDone = nil
			case <-bDone:
				exitB, haveB = fb.Result(), true
				bDone = nil
			}
			if haveA && exitA.IsSuccess() {
				if bDone != nil {
					fb.Interrupt()
					<-bDone
				}
				return exitA
			}
			if haveB && exitB.IsSuccess() {
				if aDone != nil {
					fa.Interrupt()
					<-aDone
				}
				return exitB
			}
		}
		return Failed[E, A](Both(exitA.CauseOrEmpty(), exitB.CauseOrEmpty()))
	}}
}

// RaceFirst runs a and b concurrently and returns whichever completes
// first, success or failure, interrupting the other immediately.
func RaceFirst[R, E, A any](a, b Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		fa := fork(ec, a)
		fb := fork(ec, b)
		select {
		case <-fa.Done():
			fb.Interrupt()
			<-fb.Done()
			return fa.Result()
		case <-fb.Done():
			fa.Interrupt()
			<-fa.Done()
			return fb.Result()
		}
	}}
}

// RaceAll generalizes [Race] to a slice: the first computation to succeed
// wins and every other fiber is interrupted. An empty slice is a defect,
// not a vacuous success — there is no value to produce.
func RaceAll[R, E, A any](comps []Computation[R, E, A]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		if len(comps) == 0 {
			return Failed[E, A](NewDie[E]("flux: RaceAll called with no computations"))
		}
		fibers := make([]*Fiber[E, A], len(comps))
		for i, c := range comps {
			fibers[i] = fork(ec, c)
		}
		remaining := len(fibers)
		var causes []Cause[E]
		cases := make([]<-chan struct{}, len(fibers))
		for i, f := range fibers {
			cases[i] = f.Done()
		}
		for remaining > 0 {
			i, ok := selectAny(cases)
			if !ok {
				break
			}
			exit := fibers[i].Result()
			cases[i] = nil
			remaining--
			if exit.IsSuccess() {
				for j, f := range fibers {
					if cases[j] != nil {
						f.Interrupt()
					}
				}
				return exit
			}
			causes = append(causes, exit.CauseOrEmpty())
		}
		combined := Empty[E]()
		for _, c := range causes {
			combined = Both(combined, c)
		}
		return Failed[E, A](combined)
	}}
}

// selectAny blocks until one of the non-nil channels in chans is ready,
// returning its index. Go's select statement has a fixed number of
// cases at compile time, so a dynamically sized fan-in (RaceAll runs
// over an arbitrary slice) goes through reflect.Select.
func selectAny(chans []<-chan struct{}) (int, bool) {
	cases := make([]reflect.SelectCase, 0, len(chans))
	idx := make([]int, 0, len(chans))
	for i, ch := range chans {
		if ch == nil {
			continue
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		idx = append(idx, i)
	}
	if len(cases) == 0 {
		return -1, false
	}
	chosen, _, _ := reflect.Select(cases)
	return idx[chosen], true
}

// MergeAll runs every computation in comps with at most parallelism
// fibers in flight at once, gathering their successes into a slice in
// input order, not completion order. The first failure cancels every
// pending and in-flight computation and MergeAll reports that failure's
// cause. An empty slice or non-positive parallelism is a defect, the
// same edge cases [ForEachPar] enforces, since MergeAll is exactly
// ForEachPar applied to a slice of already-built computations.
func MergeAll[R, E, A any](comps []Computation[R, E, A], parallelism int) Computation[R, E, []A] {
	return Computation[R, E, []A]{run: func(ec *execCtx) Exit[E, []A] {
		if len(comps) == 0 {
			return Failed[E, []A](NewDie[E]("flux: MergeAll called with no computations"))
		}
		return ForEachPar(comps, parallelism, func(c Computation[R, E, A]) Computation[R, E, A] { return c }).run(ec)
	}}
}

// ForEachPar applies f to every item in items with at most parallelism
// fibers running at once, preserving input order in the result slice. A
// failure in any fiber interrupts every other in-flight fiber, and
// ForEachPar reports that failure's cause. parallelism must be positive.
func ForEachPar[R, E, A, B any](items []A, parallelism int, f func(A) Computation[R, E, B]) Computation[R, E, []B] {
	return Computation[R, E, []B]{run: func(ec *execCtx) Exit[E, []B] {
		if parallelism <= 0 {
			return Failed[E, []B](NewDie[E]("flux: ForEachPar requires parallelism > 0"))
		}
		if len(items) == 0 {
			return Succeeded[E, []B](nil)
		}
		sem := newSemaphore(parallelism)
		runCtx, cancel := context.WithCancelCause(ec.goctx)
		defer cancel(nil)

		results := make([]B, len(items))
		causes := make([]Cause[E], len(items))
		failed := make([]bool, len(items))
		done := make(chan int, len(items))

		for i, item := range items {
			i, item := i, item
			go func() {
				if err := sem.acquire(runCtx); err != nil {
					failed[i] = true
					causes[i] = NewInterrupt[E](nil)
					done <- i
					return
				}
				defer sem.release()
				sub := ec.withGoContext(runCtx)
				exit := guardRun(func() Exit[E, B] { return f(item).run(sub) })
				if exit.IsSuccess() {
					v, _ := exit.Value()
					results[i] = v
				} else {
					failed[i] = true
					causes[i] = exit.CauseOrEmpty()
					cancel(errInterrupted)
				}
				done <- i
			}()
		}

		for range items {
			<-done
		}

		anyFailed := false
		combined := Empty[E]()
		for i := range items {
			if failed[i] {
				anyFailed = true
				combined = Both(combined, causes[i])
			}
		}
		if anyFailed {
			return Failed[E, []B](combined)
		}
		return Succeeded[E, []B](results)
	}}
}
