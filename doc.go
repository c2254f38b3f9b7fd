// Package flux provides a structured-concurrency runtime modeled on the
// Effect/ZIO tradition: a lazily-evaluated, environment-parameterized
// computation with a typed failure channel, and the primitives needed to
// compose, supervise, recover, retry, and observe such computations.
//
// # Computations
//
// [Computation] is the central value type. Building one has no side
// effects; only running it through a [Runtime] does.
//
//	comp := flux.FlatMap(
//		flux.Map(flux.Succeed[any, string, int](10), func(x int) int { return x * 2 }),
//		func(x int) flux.Computation[any, string, int] {
//			return flux.Succeed[any, string, int](x + 3)
//		},
//	)
//	rt := flux.NewRuntime(flux.NewContext())
//	exit := flux.Run(rt, context.Background(), comp)
//
// # Outcomes
//
// Every computation ends in an [Exit]: a success value or a [Cause],
// which distinguishes typed failures ([NewFail]) from defects ([NewDie])
// and cancellation ([NewInterrupt]).
//
// # Structured concurrency
//
// [Scope] collects release actions and runs them in reverse order of
// acquisition. [Fork] spawns a [Fiber]; [ZipPar], [Race], [RaceFirst],
// [RaceAll], [MergeAll] and [ForEachPar] compose fibers with
// cancel-on-failure semantics.
//
// # Services and layers
//
// [Context] is an immutable, type-indexed service container addressed by
// [Tag]. [Layer] builds a [Context] while registering teardown into a
// [Scope]; layers compose sequentially with [Layer.Then] and in parallel
// with [Layer.And].
//
// # Retry and repeat
//
// [Schedule] is a decision automaton consumed by [Retry] and [Repeat].
//
// # Channels and pipelines
//
// The [github.com/nodelift/flux/channel] package provides a bounded,
// closeable channel and a broadcast hub; [github.com/nodelift/flux/pipeline]
// wires multi-stage worker pools on top of it.
//
// # Services
//
// [github.com/nodelift/flux/services] provides Clock and Random service
// interfaces plus system and virtual-time test implementations.
// [github.com/nodelift/flux/observability] provides Logger,
// MetricsRegistry, and Tracer interfaces with zerolog- and
// OpenTelemetry-backed default implementations.
package flux
