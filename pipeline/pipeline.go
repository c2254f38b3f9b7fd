// Package pipeline builds multi-stage worker pipelines out of
// [channel.Channel]s and flux fibers: each stage reads from one channel,
// applies a function with some number of concurrent workers, and writes
// to the next. [Run] does not return until every worker fiber across
// every stage has been awaited, so a caller can never observe a
// "finished" pipeline with work still in flight on some forgotten
// goroutine.
package pipeline

import (
	"errors"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/channel"
)

// Stage describes one pipeline step: a function from A to B, run by some
// number of concurrent workers pulling from the stage's input channel and
// pushing to a freshly created output channel.
type Stage[A, B any] struct {
	process     func(A) (B, error)
	workers     int
	outCapacity int
}

// NewStage builds a Stage with one worker and an unbuffered output
// channel. Use [Stage.WithWorkers] and [Stage.WithOutCapacity] to adjust
// either.
func NewStage[A, B any](process func(A) (B, error)) Stage[A, B] {
	return Stage[A, B]{process: process, workers: 1}
}

// WithWorkers sets how many goroutines concurrently pull from the
// stage's input channel. Panics if n is not positive.
func (s Stage[A, B]) WithWorkers(n int) Stage[A, B] {
	if n <= 0 {
		panic("pipeline: stage requires a positive worker count")
	}
	s.workers = n
	return s
}

// WithOutCapacity sets the buffer size of the channel the stage writes
// to. Panics if n is negative.
func (s Stage[A, B]) WithOutCapacity(n int) Stage[A, B] {
	if n < 0 {
		panic("pipeline: stage requires a non-negative out capacity")
	}
	s.outCapacity = n
	return s
}

// stageHandle is what one attached stage hands to the next: the channel
// it writes to, and a Computation that blocks until every worker backing
// it has stopped, reporting the first error any of them returned (nil if
// all of them drained cleanly). join itself can never fail; a worker's
// error is a value it carries, not a typed failure, since attaching and
// running stages never fails on its own.
type stageHandle[R, B any] struct {
	out  *channel.Channel[B]
	join flux.Computation[R, flux.Never, error]
}

// Pipeline is an immutable description of a chain of stages rooted at a
// source channel of A and currently ending in a stage producing B.
// Building one does not start any goroutines; [Run] does that.
type Pipeline[R, A, B any] struct {
	attach func() flux.Computation[R, flux.Never, stageHandle[R, B]]
}

// Source roots a Pipeline at an existing channel. No stage has been
// attached yet, so A appears as both the pipeline's input and output
// type until [Via] is called.
func Source[R, A any](ch *channel.Channel[A]) Pipeline[R, A, A] {
	return Pipeline[R, A, A]{attach: func() flux.Computation[R, flux.Never, stageHandle[R, A]] {
		return flux.Succeed[R, flux.Never, stageHandle[R, A]](stageHandle[R, A]{
			out:  ch,
			join: flux.Succeed[R, flux.Never, error](nil),
		})
	}}
}

// Via appends stage to p, consuming p's current output channel and
// producing a new Pipeline ending in C. Via is a free function, not a
// method, because a method cannot introduce the new type parameter C
// that appending a stage requires.
func Via[R, A, B, C any](p Pipeline[R, A, B], stage Stage[B, C]) Pipeline[R, A, C] {
	return Pipeline[R, A, C]{attach: func() flux.Computation[R, flux.Never, stageHandle[R, C]] {
		return flux.FlatMap(p.attach(), func(prev stageHandle[R, B]) flux.Computation[R, flux.Never, stageHandle[R, C]] {
			return flux.Map(forkStage[R, B, C](prev.out, stage), func(cur stageHandle[R, C]) stageHandle[R, C] {
				return stageHandle[R, C]{
					out:  cur.out,
					join: combineJoins[R](prev.join, cur.join),
				}
			})
		})
	}}
}

// Run attaches every stage (forking their workers) and then blocks until
// all of them have stopped, returning the first error any worker in any
// stage returned. A stage's workers stop cleanly, with no error, once
// its input channel closes and drains; [channel.Channel.Close] on the
// source is therefore how a caller shuts the whole pipeline down.
func Run[R, A, B any](p Pipeline[R, A, B]) flux.Computation[R, error, struct{}] {
	return bridgeNever[R, stageHandle[R, B], error, struct{}](p.attach(), func(h stageHandle[R, B]) flux.Computation[R, error, struct{}] {
		return bridgeNever[R, error, error, struct{}](h.join, func(err error) flux.Computation[R, error, struct{}] {
			if err != nil {
				return flux.Fail[R, error, struct{}](err)
			}
			return flux.Succeed[R, error, struct{}](struct{}{})
		})
	})
}

// bridgeNever lets a Computation known to never fail feed a continuation
// in a different, possibly-failing effect type, since [flux.FlatMap]
// requires both sides to share one failure type.
func bridgeNever[R, A, E2, B any](comp flux.Computation[R, flux.Never, A], f func(A) flux.Computation[R, E2, B]) flux.Computation[R, E2, B] {
	return flux.FoldEffect[R, flux.Never, A, E2, B](comp,
		func(flux.Never) flux.Computation[R, E2, B] { panic("pipeline: observed a Never failure") },
		f,
	)
}

// forkStage creates the stage's output channel, starts its workers, and
// returns a handle for it immediately, without waiting for them.
func forkStage[R, A, B any](in *channel.Channel[A], stage Stage[A, B]) flux.Computation[R, flux.Never, stageHandle[R, B]] {
	return flux.FlatMap(flux.Sync[R, flux.Never, *channel.Channel[B]](func() *channel.Channel[B] {
		return channel.New[B](stage.outCapacity)
	}), func(out *channel.Channel[B]) flux.Computation[R, flux.Never, stageHandle[R, B]] {
		workers := make([]flux.Computation[R, error, struct{}], stage.workers)
		for i := range workers {
			workers[i] = workerLoop[R, A, B](in, out, stage.process)
		}
		return flux.Map(forkAll[R, error, struct{}](workers), func(fibers []*flux.Fiber[error, struct{}]) stageHandle[R, B] {
			return stageHandle[R, B]{out: out, join: joinAll[R](fibers)}
		})
	})
}

// workerLoop repeatedly receives an item, runs process on it, and sends
// the result onward, until the input channel closes ([channel.ErrClosed]
// ends the loop cleanly) or process or the send fails (which ends it with
// that error).
func workerLoop[R, A, B any](in *channel.Channel[A], out *channel.Channel[B], process func(A) (B, error)) flux.Computation[R, error, struct{}] {
	step := flux.FoldEffect[R, error, A, error, bool](
		channel.Receive[R, A](in),
		func(e error) flux.Computation[R, error, bool] {
			if errors.Is(e, channel.ErrClosed) {
				return flux.Succeed[R, error, bool](false)
			}
			return flux.Fail[R, error, bool](e)
		},
		func(item A) flux.Computation[R, error, bool] {
			return flux.FlatMap(flux.Attempt[R, B](func() (B, error) { return process(item) }),
				func(v B) flux.Computation[R, error, bool] {
					return flux.Map(channel.Send[R, B](out, v), func(struct{}) bool { return true })
				})
		},
	)
	looping := flux.Repeat[R, error, bool, int](step, flux.WhileInput(flux.Spaced[bool](0), func(v bool) bool { return v }))
	return flux.Map(looping, func(int) struct{} { return struct{}{} })
}

// forkAll forks every computation in comps, in order, and collects their
// fiber handles without awaiting any of them.
func forkAll[R, E, A any](comps []flux.Computation[R, E, A]) flux.Computation[R, flux.Never, []*flux.Fiber[E, A]] {
	acc := flux.Succeed[R, flux.Never, []*flux.Fiber[E, A]](nil)
	for _, comp := range comps {
		c := comp
		acc = flux.FlatMap(acc, func(fibers []*flux.Fiber[E, A]) flux.Computation[R, flux.Never, []*flux.Fiber[E, A]] {
			return flux.Map(flux.Fork(c), func(f *flux.Fiber[E, A]) []*flux.Fiber[E, A] {
				return append(fibers, f)
			})
		})
	}
	return acc
}

// joinAll awaits every fiber in turn, returning the first error any of
// them failed with, or nil if all of them succeeded. It never itself
// fails: a fiber's own error is data here, not a typed failure.
func joinAll[R any](fibers []*flux.Fiber[error, struct{}]) flux.Computation[R, flux.Never, error] {
	acc := flux.Succeed[R, flux.Never, error](nil)
	for _, fiber := range fibers {
		f := fiber
		acc = flux.FlatMap(acc, func(prevErr error) flux.Computation[R, flux.Never, error] {
			return flux.Fold[R, error, struct{}, error](flux.Join[R, error, struct{}](f),
				func(e error) error {
					if prevErr != nil {
						return prevErr
					}
					return e
				},
				func(struct{}) error { return prevErr },
			)
		})
	}
	return acc
}

// combineJoins sequences two stages' join computations into one,
// preferring the earlier stage's error if both failed.
func combineJoins[R any](a, b flux.Computation[R, flux.Never, error]) flux.Computation[R, flux.Never, error] {
	return flux.FlatMap(a, func(errA error) flux.Computation[R, flux.Never, error] {
		return flux.Map(b, func(errB error) error {
			if errA != nil {
				return errA
			}
			return errB
		})
	})
}
