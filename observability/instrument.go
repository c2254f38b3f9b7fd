package observability

import (
	"context"
	"time"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/internal/data"
)

// Instrument wraps comp with logging, a duration histogram, and a trace
// span, reading whichever of [Logger], [MetricsRegistry], and [Tracer]
// happen to be registered in the environment and silently skipping the
// ones that are not. tags are attached to the start log line and become
// part of the span name.
//
// The span created here is not threaded back into comp's own
// cancellation context; it exists purely to time and annotate comp's
// execution; nested Computations do not automatically pick it up as
// their trace parent.
func Instrument[R, E, A any](name string, comp flux.Computation[R, E, A], tags map[string]string) flux.Computation[R, E, A] {
	return flux.FlatMap(widenNever[R, E](flux.ServiceOptional[R](LoggerTag)), func(loggerOpt data.Option[Logger]) flux.Computation[R, E, A] {
		return flux.FlatMap(widenNever[R, E](flux.ServiceOptional[R](MetricsTag)), func(metricsOpt data.Option[MetricsRegistry]) flux.Computation[R, E, A] {
			return flux.FlatMap(widenNever[R, E](flux.ServiceOptional[R](TracerTag)), func(tracerOpt data.Option[Tracer]) flux.Computation[R, E, A] {
				return flux.FlatMap(widenNever[R, E](flux.GoContext[R]()), func(goctx context.Context) flux.Computation[R, E, A] {
					logger, hasLogger := loggerOpt.Get()
					metrics, hasMetrics := metricsOpt.Get()
					tracer, hasTracer := tracerOpt.Get()

					var span Span
					if hasTracer {
						_, span = tracer.StartSpan(goctx, spanName(name, tags))
					}
					if hasLogger {
						logger.Info("start "+name, tagsToFields(tags))
					}
					start := time.Now()

					return flux.FoldEffect[R, E, A, E, A](comp,
						func(e E) flux.Computation[R, E, A] {
							finish(logger, hasLogger, metrics, hasMetrics, tracer, hasTracer, span, name, start, statusFail, anyError(e))
							return flux.Fail[R, E, A](e)
						},
						func(v A) flux.Computation[R, E, A] {
							finish(logger, hasLogger, metrics, hasMetrics, tracer, hasTracer, span, name, start, statusOK, nil)
							return flux.Succeed[R, E, A](v)
						},
					)
				})
			})
		})
	})
}

// widenNever re-types a Computation statically known never to fail (E =
// [flux.Never]) so it can be chained via [flux.FlatMap] with computations
// that fail with E. The failure handler is unreachable since comp never
// produces a failure.
func widenNever[R, E, A any](comp flux.Computation[R, flux.Never, A]) flux.Computation[R, E, A] {
	return flux.MapError(comp, func(flux.Never) E {
		panic("flux: widenNever given a computation that failed")
	})
}

type status int

const (
	statusOK status = iota
	statusFail
)

func spanName(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	s := name
	for k, v := range tags {
		s += " " + k + "=" + v
	}
	return s
}

func tagsToFields(tags map[string]string) map[string]any {
	fields := make(map[string]any, len(tags))
	for k, v := range tags {
		fields[k] = v
	}
	return fields
}

func anyError[E any](e E) error {
	if err, ok := any(e).(error); ok {
		return err
	}
	return nil
}

func finish(logger Logger, hasLogger bool, metrics MetricsRegistry, hasMetrics bool, tracer Tracer, hasTracer bool, span Span, name string, start time.Time, st status, err error) {
	elapsed := time.Since(start)
	if hasTracer && span != nil {
		span.End(err)
	}
	if hasMetrics {
		metrics.Histogram("effect_duration_seconds_"+name, "duration of "+name).Observe(context.Background(), elapsed.Seconds())
	}
	if hasLogger {
		if st == statusFail {
			logger.Error("fail "+name, map[string]any{"error": err, "elapsed": elapsed.String()})
		} else {
			logger.Info("end "+name, map[string]any{"elapsed": elapsed.String()})
		}
	}
}
