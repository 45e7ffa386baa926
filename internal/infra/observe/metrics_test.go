package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTrackStarted(ctx, "MANUAL")
	m.RecordTrackStarted(ctx, "MANUAL")
	m.RecordTrackStarted(ctx, "AUTOMATED")
	m.RecordTrackFinished(ctx, "skipped")
	m.RecordStartFailure(ctx, "gateway")
	m.RecordEntryDropped(ctx)
	m.RecordRefill(ctx, 7)
	m.RecordRefill(ctx, 0)

	rm := collect(t, reader)

	started := findMetric(rm, "chanson.tracks.started")
	require.NotNil(t, started)
	assert.Equal(t, int64(2), sumByAttr(t, started, "origin", "MANUAL"))
	assert.Equal(t, int64(1), sumByAttr(t, started, "origin", "AUTOMATED"))

	finished := findMetric(rm, "chanson.tracks.finished")
	require.NotNil(t, finished)
	assert.Equal(t, int64(1), sumByAttr(t, finished, "reason", "skipped"))

	failures := findMetric(rm, "chanson.playback.start_failures")
	require.NotNil(t, failures)
	assert.Equal(t, int64(1), sumByAttr(t, failures, "stage", "gateway"))

	refill := findMetric(rm, "chanson.refill.added")
	require.NotNil(t, refill)
	sum := refill.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(7), sum.DataPoints[0].Value)

	assert.NotNil(t, findMetric(rm, "chanson.queue.entries_dropped"))
}

func TestQueueDepthGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQueueDepth(ctx, 3)
	m.RecordQueueDepth(ctx, 10)

	rm := collect(t, reader)
	depth := findMetric(rm, "chanson.queue.depth")
	require.NotNil(t, depth)
	gauge, ok := depth.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(10), gauge.DataPoints[0].Value)
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResolve(ctx, 1500*time.Millisecond, nil)
	m.RecordResolve(ctx, 20*time.Second, errors.New("download failed"))
	m.RecordGateway(ctx, "start", 30*time.Millisecond, nil)

	rm := collect(t, reader)

	resolve := findMetric(rm, "chanson.resolver.duration")
	require.NotNil(t, resolve)
	hist, ok := resolve.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2, "ok and error are separate series")

	gateway := findMetric(rm, "chanson.producer.duration")
	require.NotNil(t, gateway)
	hist, ok = gateway.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordTrackStarted(ctx, "MANUAL")
		m.RecordTrackFinished(ctx, "ended")
		m.RecordStartFailure(ctx, "spawn")
		m.RecordEntryDropped(ctx)
		m.RecordRefill(ctx, 1)
		m.RecordQueueDepth(ctx, 1)
		m.RecordResolve(ctx, time.Second, nil)
		m.RecordGateway(ctx, "stop", time.Second, nil)
	})
}

func TestInitProvider(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
