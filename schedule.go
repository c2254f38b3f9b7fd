package flux

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock is the minimal time source [Retry] and [Repeat] depend on to wait
// out a [Schedule]'s delay without blocking the goroutine uninterruptibly.
// The github.com/nodelift/flux/services package provides the richer
// Clock interface (Now, Sleep-as-Computation, virtual-time testing); any
// type satisfying this narrower interface can be registered under
// [ClockTag] to replace the default wall-clock implementation.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockTag is the service tag [Retry] and [Repeat] look up in the
// environment to find a [Clock]. If none is registered, they fall back to
// a real-time wall clock.
var ClockTag = NewTag[Clock]("flux.Clock")

type systemClock struct{}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveClock(env *Context) Clock {
	if env != nil {
		if c, ok := ContextLookup(env, ClockTag); ok {
			return c
		}
	}
	return systemClock{}
}

// scheduleStep is one decision produced by a Schedule: whether to
// continue, how long to wait before the next input, the output to report
// for this step, and the opaque state to carry into the next step.
type scheduleStep[Out any] struct {
	cont  bool
	delay time.Duration
	out   Out
	state any
}

// Schedule is a decision automaton: given an input of type In and its own
// internal state, it decides whether to continue, how long to delay, and
// what to report as Out. [Retry] feeds it the failure value of a failing
// Computation; [Repeat] feeds it the success value of a completing one.
//
// The internal state is intentionally untyped (any): different
// combinators (exponential backoff, Fibonacci delays, and_then's two-part
// state) have unrelated state shapes, and Schedule's public contract
// never exposes that shape — callers only see In, Out, and the decision.
type Schedule[In, Out any] struct {
	initial func() any
	step    func(state any, in In) scheduleStep[Out]
}

// Recurs stops after n steps, reporting the 1-based attempt number.
func Recurs[In any](n int) Schedule[In, int] {
	return Schedule[In, int]{
		initial: func() any { return 0 },
		step: func(state any, _ In) scheduleStep[int] {
			count := state.(int) + 1
			return scheduleStep[int]{cont: count <= n, delay: 0, out: count, state: count}
		},
	}
}

// Spaced repeats indefinitely with a fixed delay d between steps,
// reporting the attempt number.
func Spaced[In any](d time.Duration) Schedule[In, int] {
	return Schedule[In, int]{
		initial: func() any { return 0 },
		step: func(state any, _ In) scheduleStep[int] {
			count := state.(int) + 1
			return scheduleStep[int]{cont: true, delay: d, out: count, state: count}
		},
	}
}

// Exponential repeats indefinitely, multiplying the delay by factor after
// each step and reporting the delay that was just used.
func Exponential[In any](base time.Duration, factor float64) Schedule[In, time.Duration] {
	return Schedule[In, time.Duration]{
		initial: func() any { return base },
		step: func(state any, _ In) scheduleStep[time.Duration] {
			cur := state.(time.Duration)
			next := time.Duration(float64(cur) * factor)
			return scheduleStep[time.Duration]{cont: true, delay: cur, out: cur, state: next}
		},
	}
}

type fibScheduleState struct{ prev, cur time.Duration }

// Fibonacci repeats indefinitely with delays following a Fibonacci
// sequence seeded by base.
func Fibonacci[In any](base time.Duration) Schedule[In, time.Duration] {
	return Schedule[In, time.Duration]{
		initial: func() any { return fibScheduleState{prev: base, cur: base} },
		step: func(state any, _ In) scheduleStep[time.Duration] {
			s := state.(fibScheduleState)
			delay := s.cur
			next := fibScheduleState{prev: s.cur, cur: s.prev + s.cur}
			return scheduleStep[time.Duration]{cont: true, delay: delay, out: delay, state: next}
		},
	}
}

// Jittered scales every delay s produces by jitter(), which should return
// a factor in [0, 1). Passing a deterministic jitter function (e.g. one
// backed by the services package's TestRandom) makes retry timing tests
// reproducible.
func Jittered[In, Out any](s Schedule[In, Out], jitter func() float64) Schedule[In, Out] {
	return Schedule[In, Out]{
		initial: s.initial,
		step: func(state any, in In) scheduleStep[Out] {
			step := s.step(state, in)
			step.delay = time.Duration(float64(step.delay) * jitter())
			return step
		},
	}
}

type andThenState struct {
	onSecond bool
	inner    any
}

// AndThen runs first until it stops continuing, then switches to second
// (started fresh). Useful for "a few quick retries, then settle into a
// slow steady cadence".
func AndThen[In, Out any](first, second Schedule[In, Out]) Schedule[In, Out] {
	return Schedule[In, Out]{
		initial: func() any { return andThenState{inner: first.initial()} },
		step: func(raw any, in In) scheduleStep[Out] {
			st := raw.(andThenState)
			if !st.onSecond {
				r := first.step(st.inner, in)
				if r.cont {
					return scheduleStep[Out]{cont: true, delay: r.delay, out: r.out, state: andThenState{inner: r.state}}
				}
				st = andThenState{onSecond: true, inner: second.initial()}
			}
			r := second.step(st.inner, in)
			return scheduleStep[Out]{cont: r.cont, delay: r.delay, out: r.out, state: andThenState{onSecond: true, inner: r.state}}
		},
	}
}

type upToState struct {
	start time.Time
	inner any
}

// UpTo caps s to a maximum total elapsed wall-clock time since the
// schedule began, regardless of what s itself would otherwise decide.
func UpTo[In, Out any](s Schedule[In, Out], max time.Duration) Schedule[In, Out] {
	return Schedule[In, Out]{
		initial: func() any { return upToState{start: time.Now(), inner: s.initial()} },
		step: func(raw any, in In) scheduleStep[Out] {
			st := raw.(upToState)
			r := s.step(st.inner, in)
			r.cont = r.cont && time.Since(st.start) < max
			r.state = upToState{start: st.start, inner: r.state}
			return r
		},
	}
}

// WhileInput stops s as soon as pred(in) is false for the current input.
func WhileInput[In, Out any](s Schedule[In, Out], pred func(In) bool) Schedule[In, Out] {
	return Schedule[In, Out]{
		initial: s.initial,
		step: func(state any, in In) scheduleStep[Out] {
			r := s.step(state, in)
			r.cont = r.cont && pred(in)
			return r
		},
	}
}

// WhileOutput stops s as soon as pred is false for the output it just
// decided to report.
func WhileOutput[In, Out any](s Schedule[In, Out], pred func(Out) bool) Schedule[In, Out] {
	return Schedule[In, Out]{
		initial: s.initial,
		step: func(state any, in In) scheduleStep[Out] {
			r := s.step(state, in)
			r.cont = r.cont && pred(r.out)
			return r
		},
	}
}

// Cron builds a Schedule that fires at the times described by a standard
// five-field cron expression, reporting the next fire time as Out. It
// panics on an invalid expression, the same way [NewTag] treats its
// inputs as programmer errors rather than runtime failures.
func Cron[In any](expr string) Schedule[In, time.Time] {
	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		panic(fmt.Sprintf("flux: invalid cron expression %q: %v", expr, err))
	}
	return Schedule[In, time.Time]{
		initial: func() any { return time.Now() },
		step: func(state any, _ In) scheduleStep[time.Time] {
			from := state.(time.Time)
			next := parsed.Next(from)
			return scheduleStep[time.Time]{cont: true, delay: next.Sub(from), out: next, state: next}
		},
	}
}

// Retry re-runs comp according to sched whenever it ends in a typed
// failure, feeding the failure value to sched as input. Defects and
// interrupts are never retried — they propagate immediately, the same
// distinction [CatchAll] makes.
func Retry[R, E, A, Out any](comp Computation[R, E, A], sched Schedule[E, Out]) Computation[R, E, A] {
	return Computation[R, E, A]{run: func(ec *execCtx) Exit[E, A] {
		state := sched.initial()
		for {
			exit := comp.run(ec)
			if exit.IsSuccess() {
				return exit
			}
			cause, _ := exit.Cause()
			fv, ok := cause.FailureValue()
			if !ok {
				return exit
			}
			step := sched.step(state, fv)
			if !step.cont {
				return exit
			}
			if err := resolveClock(ec.env).Sleep(ec.goctx, step.delay); err != nil {
				return Failed[E, A](NewInterrupt[E](nil))
			}
			state = step.state
		}
	}}
}

// Repeat re-runs comp according to sched after every success, feeding the
// success value to sched as input, until sched decides to stop — at which
// point Repeat reports the last Out it produced. A failure from comp
// propagates immediately without consulting sched.
func Repeat[R, E, A, Out any](comp Computation[R, E, A], sched Schedule[A, Out]) Computation[R, E, Out] {
	return Computation[R, E, Out]{run: func(ec *execCtx) Exit[E, Out] {
		state := sched.initial()
		var lastOut Out
		for {
			exit := comp.run(ec)
			if exit.IsFailure() {
				return Failed[E, Out](exit.CauseOrEmpty())
			}
			v, _ := exit.Value()
			step := sched.step(state, v)
			lastOut = step.out
			if !step.cont {
				return Succeeded[E, Out](lastOut)
			}
			if err := resolveClock(ec.env).Sleep(ec.goctx, step.delay); err != nil {
				return Failed[E, Out](NewInterrupt[E](nil))
			}
			state = step.state
		}
	}}
}
