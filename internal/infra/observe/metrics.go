// Package observe provides the station's OpenTelemetry metrics and the
// Prometheus bridge that exposes them on /metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without telemetry in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/osa030/chanson"

// Metrics holds all metric instruments for the station.
type Metrics struct {
	// TracksStarted counts tracks that reached Playing. Attribute: origin.
	TracksStarted metric.Int64Counter

	// TracksFinished counts tracks that left Playing. Attribute: reason.
	TracksFinished metric.Int64Counter

	// StartFailures counts failed start attempts. Attribute: stage.
	StartFailures metric.Int64Counter

	// EntriesDropped counts entries removed after repeated start failures.
	EntriesDropped metric.Int64Counter

	// RefillAdded counts automated entries appended by the refill policy.
	RefillAdded metric.Int64Counter

	// QueueDepth is the queue size observed after each change.
	QueueDepth metric.Int64Gauge

	// ResolveDuration tracks track resolution latency. Attribute: status.
	ResolveDuration metric.Float64Histogram

	// GatewayDuration tracks producer gateway call latency. Attributes: op, status.
	GatewayDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Resolution includes
// downloads, so the tail reaches minutes.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments from the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TracksStarted, err = m.Int64Counter("chanson.tracks.started",
		metric.WithDescription("Tracks that started playing, by origin."),
	); err != nil {
		return nil, err
	}
	if met.TracksFinished, err = m.Int64Counter("chanson.tracks.finished",
		metric.WithDescription("Tracks that stopped playing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.StartFailures, err = m.Int64Counter("chanson.playback.start_failures",
		metric.WithDescription("Failed playback start attempts, by stage."),
	); err != nil {
		return nil, err
	}
	if met.EntriesDropped, err = m.Int64Counter("chanson.queue.entries_dropped",
		metric.WithDescription("Entries removed after exhausting start attempts."),
	); err != nil {
		return nil, err
	}
	if met.RefillAdded, err = m.Int64Counter("chanson.refill.added",
		metric.WithDescription("Automated entries appended by refill."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("chanson.queue.depth",
		metric.WithDescription("Number of entries in the queue."),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("chanson.resolver.duration",
		metric.WithDescription("Latency of track resolution including downloads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GatewayDuration, err = m.Float64Histogram("chanson.producer.duration",
		metric.WithDescription("Latency of producer gateway calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTrackStarted increments the started counter.
func (m *Metrics) RecordTrackStarted(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	m.TracksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

// RecordTrackFinished increments the finished counter.
func (m *Metrics) RecordTrackFinished(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.TracksFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStartFailure increments the start failure counter.
func (m *Metrics) RecordStartFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.StartFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordEntryDropped increments the dropped entries counter.
func (m *Metrics) RecordEntryDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.EntriesDropped.Add(ctx, 1)
}

// RecordRefill adds n to the refill counter.
func (m *Metrics) RecordRefill(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RefillAdded.Add(ctx, int64(n))
}

// RecordQueueDepth records the current queue size.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Record(ctx, int64(depth))
}

// RecordResolve records a resolution latency.
func (m *Metrics) RecordResolve(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResolveDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordGateway records a producer gateway call latency.
func (m *Metrics) RecordGateway(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.GatewayDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status(err)),
		),
	)
}
