// Package observe provides the observability primitives of the node:
// OpenTelemetry metrics bridged to Prometheus, tracing, structured logging
// helpers and the HTTP middleware that ties them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every node metric.
const meterName = "github.com/natanbc/andesite"

// Metrics holds the metric instruments of the node. All fields are safe for
// concurrent use.
type Metrics struct {
	// --- Players ---

	// ActivePlayers tracks the number of live players.
	ActivePlayers metric.Int64UpDownCounter

	// TrackEvents counts track lifecycle events. Attributes:
	//   attribute.String("type", ...), attribute.String("reason", ...)
	TrackEvents metric.Int64Counter

	// --- Frame delivery ---

	// FramesSent counts frames handed to a voice transport.
	FramesSent metric.Int64Counter

	// FramesLost counts ticks where a playing player had no frame ready.
	FramesLost metric.Int64Counter

	// PumpBackpressure counts producer runs that found the backlog full.
	PumpBackpressure metric.Int64Counter

	// --- Track loading ---

	// TrackLoads counts identifier resolutions. Attribute:
	//   attribute.String("load_type", ...)
	TrackLoads metric.Int64Counter

	// TrackLoadDuration tracks identifier resolution latency.
	TrackLoadDuration metric.Float64Histogram

	// --- Clients ---

	// WebSocketConnections tracks open client websockets. Attribute:
	//   attribute.String("mode", "native"|"compat")
	WebSocketConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.TrackEvents, "andesite.track.events", "Track lifecycle events by type and end reason."},
		{&met.FramesSent, "andesite.frames.sent", "Frames delivered to voice transports."},
		{&met.FramesLost, "andesite.frames.lost", "Ticks where a playing player had no frame ready."},
		{&met.PumpBackpressure, "andesite.pump.backpressure", "Frame producer runs that found the backlog full."},
		{&met.TrackLoads, "andesite.track.loads", "Identifier resolutions by load type."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActivePlayers, err = m.Int64UpDownCounter("andesite.players.active",
		metric.WithDescription("Number of live players."),
	); err != nil {
		return nil, err
	}
	if met.WebSocketConnections, err = m.Int64UpDownCounter("andesite.websocket.connections",
		metric.WithDescription("Number of open client websockets by mode."),
	); err != nil {
		return nil, err
	}
	if met.TrackLoadDuration, err = m.Float64Histogram("andesite.track.load.duration",
		metric.WithDescription("Latency of identifier resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("andesite.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTrackEvent counts one track event. reason may be empty.
func (m *Metrics) RecordTrackEvent(ctx context.Context, typ, reason string) {
	attrs := []attribute.KeyValue{Attr("type", typ)}
	if reason != "" {
		attrs = append(attrs, Attr("reason", reason))
	}
	m.TrackEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFrame counts one delivery tick of a playing player.
func (m *Metrics) RecordFrame(ctx context.Context, delivered bool) {
	if delivered {
		m.FramesSent.Add(ctx, 1)
		return
	}
	m.FramesLost.Add(ctx, 1)
}

// RecordTrackLoad counts one identifier resolution and its latency.
func (m *Metrics) RecordTrackLoad(ctx context.Context, loadType string, seconds float64) {
	m.TrackLoads.Add(ctx, 1, metric.WithAttributes(Attr("load_type", loadType)))
	m.TrackLoadDuration.Record(ctx, seconds)
}

// RegisterPlayingGauge exports the number of players currently producing
// audio, read from fn at collection time.
func RegisterPlayingGauge(mp metric.MeterProvider, fn func() int64) (metric.Registration, error) {
	m := mp.Meter(meterName)
	g, err := m.Int64ObservableGauge("andesite.players.playing",
		metric.WithDescription("Number of players currently producing audio."),
	)
	if err != nil {
		return nil, err
	}
	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(g, fn())
		return nil
	}, g)
}
