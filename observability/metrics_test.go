package observability

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *OTelMetrics) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, NewOTelMetrics(provider.Meter("observability-test"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func TestOTelMetricsCounterAccumulates(t *testing.T) {
	reader, registry := newTestMeter(t)

	c := registry.Counter("requests.total", "total requests handled")
	c.Inc(context.Background(), 2)
	c.Inc(context.Background(), 3)

	rm := collect(t, reader)
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	assert.Equal(t, "requests.total", rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestOTelMetricsCounterIsCachedByName(t *testing.T) {
	_, registry := newTestMeter(t)

	first := registry.Counter("same.name", "first")
	second := registry.Counter("same.name", "second")
	assert.Equal(t, registry.counters["same.name"], first.(otelCounter).inst)
	assert.Equal(t, first, second)
}

func TestOTelMetricsGaugeAndHistogramRecordWithoutPanicking(t *testing.T) {
	reader, registry := newTestMeter(t)

	registry.Gauge("queue.depth", "items waiting").Set(context.Background(), 7)
	registry.Histogram("request.latency", "seconds").Observe(context.Background(), 0.125)

	rm := collect(t, reader)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Len(t, rm.ScopeMetrics[0].Metrics, 2)
}
