// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]; [Handler] serves them at /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Pipeline stage names used as the "stage" attribute on [Metrics.StageDuration].
const (
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
	StageSynthesize = "synthesize"
	StagePlay       = "play"
)

// Turn outcomes used as the "outcome" attribute on [Metrics.Turns].
const (
	OutcomeCompleted = "completed"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture path ---

	// FramesCaptured counts frames read from the audio source.
	FramesCaptured metric.Int64Counter

	// ClassifierErrors counts frames whose classification failed and were
	// treated as speech.
	ClassifierErrors metric.Int64Counter

	// Utterances counts utterances emitted by the segmenter. Use with
	// attribute.String("reason", "silence"|"max_length").
	Utterances metric.Int64Counter

	// DroppedFrames counts frames ignored while playback holds the
	// half-duplex gate.
	DroppedFrames metric.Int64Counter

	// --- Turn worker ---

	// StageDuration tracks per-stage latency. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// Turns counts processed utterances by outcome. Use with
	// attribute.String("outcome", ...).
	Turns metric.Int64Counter

	// QueueDepth tracks utterances waiting for the turn worker.
	QueueDepth metric.Int64UpDownCounter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes
	// provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes provider
	// and kind.
	ProviderErrors metric.Int64Counter

	// EventsPublished counts turn events handed to the message broker. Use
	// with attribute.String("status", ...).
	EventsPublished metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// local speech models, which routinely take seconds per utterance.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture path.
	if met.FramesCaptured, err = m.Int64Counter("earshot.capture.frames",
		metric.WithDescription("Total audio frames read from the source."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("earshot.vad.errors",
		metric.WithDescription("Frames whose classification failed and defaulted to speech."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("earshot.segmenter.utterances",
		metric.WithDescription("Utterances emitted by the segmenter by close reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("earshot.capture.gated_frames",
		metric.WithDescription("Frames ignored while the half-duplex gate was closed."),
	); err != nil {
		return nil, err
	}

	// Turn worker.
	if met.StageDuration, err = m.Float64Histogram("earshot.stage.duration",
		metric.WithDescription("Latency of each turn stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("earshot.turns",
		metric.WithDescription("Processed utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.queue.depth",
		metric.WithDescription("Utterances waiting for the turn worker."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("earshot.events.published",
		metric.WithDescription("Turn events handed to the broker by status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one turn stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordTurn counts one processed utterance with the given outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUtterance counts one emitted utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordEventPublish records the outcome of one broker write.
func (m *Metrics) RecordEventPublish(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
