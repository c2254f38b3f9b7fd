package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	flux "github.com/nodelift/flux"
)

// Providers bundles the SDK providers [Setup] builds, so callers can
// both register flux services from them and shut them down cleanly.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Shutdown flushes and closes both providers, joining any errors.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}

// Setup dials otlpEndpoint over gRPC and builds a TracerProvider and
// MeterProvider exporting to it. serviceName tags every span and metric
// emitted by the providers.
func Setup(ctx context.Context, otlpEndpoint, serviceName string) (*Providers, error) {
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(otlpEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("observability: dial trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(otlpEndpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("observability: dial metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(10*time.Second))),
	)

	return &Providers{TracerProvider: tp, MeterProvider: mp}, nil
}

// ObservabilityLayer builds a flux.Layer registering a default Logger, a
// MetricsRegistry backed by p's MeterProvider, and a Tracer backed by
// p's TracerProvider, all under one service/instrumentation name.
func ObservabilityLayer(p *Providers, instrumentationName string) flux.Layer[flux.Never] {
	meter := p.MeterProvider.Meter(instrumentationName)
	tracer := p.TracerProvider.Tracer(instrumentationName)
	return LoggerLayer(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()).
		Then(MetricsLayer(meter)).
		Then(TracerLayer(tracer))
}
