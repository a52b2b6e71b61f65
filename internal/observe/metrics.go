// Package observe provides application-wide observability primitives for
// voxnote: OpenTelemetry metrics, tracing, span-aware logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxnote metrics.
const meterName = "github.com/MrWong99/voxnote"

// Utterance outcomes reported on [Metrics.Utterances].
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeSilent   = "silent"
	OutcomeFailed   = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks engine latency per utterance.
	TranscriptionDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of closed utterances.
	UtteranceDuration metric.Float64Histogram

	// Utterances counts closed utterances. Use with attribute:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// StorageErrors counts failed session store operations. Use with attribute:
	//   attribute.String("op", ...)
	StorageErrors metric.Int64Counter

	// DroppedFrames counts capture frames lost because the consumer fell
	// behind.
	DroppedFrames metric.Int64Counter

	// ActiveRecordings is 1 while the microphone is being recorded.
	ActiveRecordings metric.Int64UpDownCounter

	// PendingUtterances tracks utterances queued or mid-pipeline.
	PendingUtterances metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for local
// inference, which is much slower than network round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("voxnote.transcription.duration",
		metric.WithDescription("Latency of local speech-to-text inference per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxnote.utterance.duration",
		metric.WithDescription("Audio length of closed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("voxnote.utterances",
		metric.WithDescription("Closed utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StorageErrors, err = m.Int64Counter("voxnote.storage.errors",
		metric.WithDescription("Failed session store operations by operation."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxnote.capture.dropped_frames",
		metric.WithDescription("Capture frames dropped because the consumer fell behind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("voxnote.recording.active",
		metric.WithDescription("Number of recordings currently capturing audio."),
	); err != nil {
		return nil, err
	}
	if met.PendingUtterances, err = m.Int64UpDownCounter("voxnote.pipeline.pending",
		metric.WithDescription("Utterances queued or being transcribed."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxnote.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordUtterance counts one closed utterance with its outcome and records
// its audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, audio time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.UtteranceDuration.Record(ctx, audio.Seconds())
}

// RecordTranscription records the latency of one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds())
}

// RecordStorageError counts a failed store operation.
func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	m.StorageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
