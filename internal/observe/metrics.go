// Package observe provides application-wide observability primitives for
// mindscope: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mindscope metrics.
const meterName = "github.com/MrWong99/mindscope"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Ingestion ---

	// BatchesIngested counts sample batches applied to the channel buffers.
	BatchesIngested metric.Int64Counter

	// SamplesIngested counts samples per channel applied to the buffers.
	SamplesIngested metric.Int64Counter

	// MalformedBatches counts batches rejected at ingestion.
	MalformedBatches metric.Int64Counter

	// InferenceVectors counts probability vectors. Use with attribute:
	//   attribute.String("status", "ok"|"rejected")
	InferenceVectors metric.Int64Counter

	// QueueDepth reports pending events per hand-off queue at each tick.
	// Use with attribute: attribute.String("queue", "samples"|"inference")
	QueueDepth metric.Int64Gauge

	// --- Rendering ---

	// RenderTicks counts scheduler ticks. Use with attribute:
	//   attribute.String("outcome", "idle"|"waiting"|"frame"|"error")
	RenderTicks metric.Int64Counter

	// RenderDuration tracks the time spent producing one frame.
	RenderDuration metric.Float64Histogram

	// SpectrumDuration tracks the spectral estimate computation time.
	SpectrumDuration metric.Float64Histogram

	// --- Sessions ---

	// ActiveSessions tracks the number of live acquisition sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// ProducerFailures counts producers that died mid-session. Use with
	// attribute: attribute.String("source", "samples"|"inference")
	ProducerFailures metric.Int64Counter

	// TeardownTimeouts counts sessions whose producers did not quiesce within
	// the stop window.
	TeardownTimeouts metric.Int64Counter

	// --- Recorder ---

	// RecorderRows counts rows handed to the recording sink. Use with
	// attribute: attribute.String("status", "written"|"dropped"|"failed")
	RecorderRows metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// renderBuckets defines histogram bucket boundaries (in seconds) sized for
// work done inside a 50 ms render tick.
var renderBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Ingestion.
	if met.BatchesIngested, err = m.Int64Counter("mindscope.batches.ingested",
		metric.WithDescription("Sample batches applied to the channel buffers."),
	); err != nil {
		return nil, err
	}
	if met.SamplesIngested, err = m.Int64Counter("mindscope.samples.ingested",
		metric.WithDescription("Samples per channel applied to the channel buffers."),
	); err != nil {
		return nil, err
	}
	if met.MalformedBatches, err = m.Int64Counter("mindscope.batches.malformed",
		metric.WithDescription("Sample batches rejected at ingestion."),
	); err != nil {
		return nil, err
	}
	if met.InferenceVectors, err = m.Int64Counter("mindscope.inference.vectors",
		metric.WithDescription("Probability vectors received by status."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("mindscope.queue.depth",
		metric.WithDescription("Pending events per hand-off queue."),
	); err != nil {
		return nil, err
	}

	// Rendering.
	if met.RenderTicks, err = m.Int64Counter("mindscope.render.ticks",
		metric.WithDescription("Render scheduler ticks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("mindscope.render.duration",
		metric.WithDescription("Time spent producing one display frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(renderBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpectrumDuration, err = m.Float64Histogram("mindscope.spectrum.duration",
		metric.WithDescription("Time spent computing the spectral estimate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(renderBuckets...),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("mindscope.active_sessions",
		metric.WithDescription("Number of live acquisition sessions."),
	); err != nil {
		return nil, err
	}
	if met.ProducerFailures, err = m.Int64Counter("mindscope.producer.failures",
		metric.WithDescription("Producers that died mid-session by source."),
	); err != nil {
		return nil, err
	}
	if met.TeardownTimeouts, err = m.Int64Counter("mindscope.teardown.timeouts",
		metric.WithDescription("Sessions whose producers missed the stop window."),
	); err != nil {
		return nil, err
	}

	// Recorder.
	if met.RecorderRows, err = m.Int64Counter("mindscope.recorder.rows",
		metric.WithDescription("Rows handed to the recording sink by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mindscope.http.request.duration",
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

// RecordBatch records one accepted batch of n samples per channel.
func (m *Metrics) RecordBatch(ctx context.Context, n int) {
	m.BatchesIngested.Add(ctx, 1)
	m.SamplesIngested.Add(ctx, int64(n))
}

// RecordInference records one probability vector with the given status.
func (m *Metrics) RecordInference(ctx context.Context, status string) {
	m.InferenceVectors.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTick records one scheduler tick outcome.
func (m *Metrics) RecordTick(ctx context.Context, outcome string) {
	m.RenderTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordQueueDepth records the pending event count of a hand-off queue.
func (m *Metrics) RecordQueueDepth(ctx context.Context, queue string, depth int) {
	m.QueueDepth.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordProducerFailure records a producer that died mid-session.
func (m *Metrics) RecordProducerFailure(ctx context.Context, source string) {
	m.ProducerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordRecorderRows records n rows handed to the recording sink.
func (m *Metrics) RecordRecorderRows(ctx context.Context, status string, n int) {
	m.RecorderRows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
}
