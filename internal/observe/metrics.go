// Package observe provides application-wide observability primitives for the
// call bridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all call bridge metrics.
const meterName = "github.com/utsavkredmint/exotel-based-call"

// Audio directions used as the "direction" attribute.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// CallDuration tracks the wall-clock length of bridged calls. Use with
	// attribute.String("reason", ...).
	CallDuration metric.Float64Histogram

	// LiveConnectDuration tracks how long opening a live session takes.
	LiveConnectDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts audio chunks relayed. Use with attribute:
	//   attribute.String("direction", "inbound"|"outbound")
	AudioChunks metric.Int64Counter

	// LiveSendErrors counts inbound chunks dropped because the live session
	// rejected them.
	LiveSendErrors metric.Int64Counter

	// Turns counts completed model turns.
	Turns metric.Int64Counter

	// ResampleFallbacks counts frames forwarded unconverted because
	// resampling failed.
	ResampleFallbacks metric.Int64Counter

	// SpeechTransitions counts caller activity changes. Use with attribute:
	//   attribute.String("transition", "speech"|"silence")
	SpeechTransitions metric.Int64Counter

	// CallsEnded counts finished calls. Use with attribute:
	//   attribute.String("reason", ...)
	CallsEnded metric.Int64Counter

	// ProviderRequests counts external API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts external API errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of calls currently being bridged.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for call
// lengths, from dropped calls to the provider's session limit.
var callBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CallDuration, err = m.Float64Histogram("callbridge.call.duration",
		metric.WithDescription("Duration of bridged calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LiveConnectDuration, err = m.Float64Histogram("callbridge.live.connect.duration",
		metric.WithDescription("Latency of opening a live AI session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("callbridge.audio.chunks",
		metric.WithDescription("Audio chunks relayed by direction."),
	); err != nil {
		return nil, err
	}
	if met.LiveSendErrors, err = m.Int64Counter("callbridge.live.send_errors",
		metric.WithDescription("Inbound audio chunks dropped after a failed send."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("callbridge.turns",
		metric.WithDescription("Completed model turns."),
	); err != nil {
		return nil, err
	}
	if met.ResampleFallbacks, err = m.Int64Counter("callbridge.audio.resample_fallbacks",
		metric.WithDescription("Frames forwarded at their original rate after a failed conversion."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTransitions, err = m.Int64Counter("callbridge.audio.speech_transitions",
		metric.WithDescription("Caller voice activity transitions."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("callbridge.calls.ended",
		metric.WithDescription("Finished calls by end reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callbridge.provider.requests",
		metric.WithDescription("Total external API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("callbridge.provider.errors",
		metric.WithDescription("Total external API errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callbridge.active_calls",
		metric.WithDescription("Number of calls currently bridged."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAudioChunk counts one relayed chunk in the given direction.
func (m *Metrics) RecordAudioChunk(ctx context.Context, direction string) {
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordSpeechTransition counts one caller activity change.
func (m *Metrics) RecordSpeechTransition(ctx context.Context, transition string) {
	m.SpeechTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

// RecordCallEnded records the end of a call: its duration and the reason it
// ended.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.CallsEnded.Add(ctx, 1, attrs)
	m.CallDuration.Record(ctx, d.Seconds(), attrs)
}
