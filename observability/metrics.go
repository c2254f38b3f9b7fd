package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	flux "github.com/nodelift/flux"
)

// MetricsRegistry is the metrics service computations read from the
// environment. It hands back named, cached instrument handles rather
// than creating a new one on every call.
type MetricsRegistry interface {
	Counter(name, help string) Counter
	Gauge(name, help string) Gauge
	Histogram(name, help string) Histogram
}

// Counter is a monotonically increasing count.
type Counter interface {
	Inc(ctx context.Context, n int64)
}

// Gauge is a point-in-time value that can move in either direction.
type Gauge interface {
	Set(ctx context.Context, v float64)
}

// Histogram records a distribution of observed values.
type Histogram interface {
	Observe(ctx context.Context, v float64)
}

// MetricsTag is the service tag [Instrument] and user code look up.
var MetricsTag = flux.NewTag[MetricsRegistry]("observability.MetricsRegistry")

// OTelMetrics implements [MetricsRegistry] on top of an
// go.opentelemetry.io/otel/metric.Meter, caching instrument handles by
// name so repeated [Instrument] calls for the same operation name reuse
// one underlying instrument, as OTel requires.
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOTelMetrics wraps meter.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:      meter,
		counters:   map[string]metric.Int64Counter{},
		gauges:     map[string]metric.Float64Gauge{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

type otelCounter struct {
	inst metric.Int64Counter
}

func (c otelCounter) Inc(ctx context.Context, n int64) { c.inst.Add(ctx, n) }

type otelGauge struct {
	inst metric.Float64Gauge
}

func (g otelGauge) Set(ctx context.Context, v float64) { g.inst.Record(ctx, v) }

type otelHistogram struct {
	inst metric.Float64Histogram
}

func (h otelHistogram) Observe(ctx context.Context, v float64) { h.inst.Record(ctx, v) }

// Counter returns the named counter, creating it on first use.
func (m *OTelMetrics) Counter(name, help string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.counters[name]
	if !ok {
		var err error
		inst, err = m.meter.Int64Counter(name, metric.WithDescription(help))
		if err != nil {
			panic("observability: counter " + name + ": " + err.Error())
		}
		m.counters[name] = inst
	}
	return otelCounter{inst: inst}
}

// Gauge returns the named gauge, creating it on first use.
func (m *OTelMetrics) Gauge(name, help string) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.gauges[name]
	if !ok {
		var err error
		inst, err = m.meter.Float64Gauge(name, metric.WithDescription(help))
		if err != nil {
			panic("observability: gauge " + name + ": " + err.Error())
		}
		m.gauges[name] = inst
	}
	return otelGauge{inst: inst}
}

// Histogram returns the named histogram, creating it on first use.
func (m *OTelMetrics) Histogram(name, help string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.histograms[name]
	if !ok {
		var err error
		inst, err = m.meter.Float64Histogram(name, metric.WithDescription(help))
		if err != nil {
			panic("observability: histogram " + name + ": " + err.Error())
		}
		m.histograms[name] = inst
	}
	return otelHistogram{inst: inst}
}

// MetricsLayer registers an OTelMetrics instance built from meter under
// [MetricsTag].
func MetricsLayer(meter metric.Meter) flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		return flux.ContextAdd(flux.NewContext(), MetricsTag, MetricsRegistry(NewOTelMetrics(meter)))
	}))
}
