package services

import (
	"errors"
	"math/rand/v2"

	flux "github.com/nodelift/flux"
)

// ErrEmptySequence is returned by Choice when given an empty slice.
var ErrEmptySequence = errors.New("services: choice requires a non-empty sequence")

// ErrNonPositiveBound is returned by IntN when bound is not positive.
var ErrNonPositiveBound = errors.New("services: bound must be > 0")

// Random is the source of randomness [Jittered] and user code read from
// the environment.
type Random interface {
	Float64() float64
	IntN(bound int) (int, error)
}

// RandomTag is the service tag components register a Random under.
var RandomTag = flux.NewTag[Random]("services.Random")

// SystemRandom wraps math/rand/v2's package-level generator.
type SystemRandom struct{}

// Float64 returns a pseudo-random value in [0, 1).
func (SystemRandom) Float64() float64 { return rand.Float64() }

// IntN returns a pseudo-random value in [0, bound).
func (SystemRandom) IntN(bound int) (int, error) {
	if bound <= 0 {
		return 0, ErrNonPositiveBound
	}
	return rand.IntN(bound), nil
}

// TestRandom is a seeded, deterministic Random, so jitter and sampling
// tests are reproducible.
type TestRandom struct {
	rng *rand.Rand
}

// NewTestRandom returns a TestRandom seeded deterministically from seed.
func NewTestRandom(seed uint64) *TestRandom {
	return &TestRandom{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Float64 returns the next pseudo-random value in [0, 1).
func (r *TestRandom) Float64() float64 { return r.rng.Float64() }

// IntN returns the next pseudo-random value in [0, bound).
func (r *TestRandom) IntN(bound int) (int, error) {
	if bound <= 0 {
		return 0, ErrNonPositiveBound
	}
	return r.rng.IntN(bound), nil
}

// Choice picks a uniformly random element of seq using r.
func Choice[T any](r Random, seq []T) (T, error) {
	var zero T
	if len(seq) == 0 {
		return zero, ErrEmptySequence
	}
	i, err := r.IntN(len(seq))
	if err != nil {
		return zero, err
	}
	return seq[i], nil
}

// SystemRandomLayer registers a SystemRandom under [RandomTag].
func SystemRandomLayer() flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		return flux.ContextAdd(flux.NewContext(), RandomTag, Random(SystemRandom{}))
	}))
}

// TestRandomLayer registers a *TestRandom seeded from seed under
// [RandomTag].
func TestRandomLayer(seed uint64) flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		return flux.ContextAdd(flux.NewContext(), RandomTag, Random(NewTestRandom(seed)))
	}))
}

// Jitter returns a func() float64 suitable for [flux.Jittered], reading
// from whichever Random is registered in env.
func Jitter(env *flux.Context) func() float64 {
	return func() float64 {
		r, ok := flux.ContextLookup(env, RandomTag)
		if !ok {
			return SystemRandom{}.Float64()
		}
		return r.Float64()
	}
}
