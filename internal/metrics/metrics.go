// Package metrics implements internal/engine.Metrics over
// OpenTelemetry, generalizing gomind's resilience/metrics_otel.go
// meter/instrument-creation shape (one small struct wrapping a set of
// named instruments, built once and passed by reference) to the
// pipeline-stage/backend-write/retrieval-latency counters spec.md
// §4.9 and §7 call for. Unlike the teacher, this package builds
// directly on go.opentelemetry.io/otel/metric rather than gomind's
// internal telemetry wrapper, since that package is not part of this
// module's dependency surface.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder implements internal/engine.Metrics.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	pipelineStageFailures metric.Int64Counter
	qualitySkipped        metric.Int64Counter
	backendWriteFailures  metric.Int64Counter
	retrievalLatency      metric.Float64Histogram
}

// New builds a Recorder that periodically exports to an
// stdoutmetric.Exporter, matching the teacher's pattern of wiring a
// concrete OTel exporter behind a small collector struct. Pass a
// context that outlives the engine; call Shutdown on the same
// context's cancellation.
func New(ctx context.Context) (*Recorder, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	meter := provider.Meter("epimem/engine")

	r := &Recorder{provider: provider, meter: meter}

	r.pipelineStageFailures, err = meter.Int64Counter("epimem.pipeline.stage_failures",
		metric.WithDescription("count of post-completion pipeline stage failures, by stage"))
	if err != nil {
		return nil, err
	}
	r.qualitySkipped, err = meter.Int64Counter("epimem.pipeline.quality_skipped",
		metric.WithDescription("count of episodes skipped by the quality gate"))
	if err != nil {
		return nil, err
	}
	r.backendWriteFailures, err = meter.Int64Counter("epimem.storage.backend_write_failures",
		metric.WithDescription("count of best-effort backend write failures, by backend"))
	if err != nil {
		return nil, err
	}
	r.retrievalLatency, err = meter.Float64Histogram("epimem.retrieval.latency_ms",
		metric.WithDescription("spatiotemporal retrieval latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return r, nil
}

// IncPipelineStageFailure records one failure of the named pipeline stage.
func (r *Recorder) IncPipelineStageFailure(stage string) {
	r.pipelineStageFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// IncQualitySkipped records one episode skipped by the quality gate.
func (r *Recorder) IncQualitySkipped() {
	r.qualitySkipped.Add(context.Background(), 1)
}

// IncBackendWriteFailure records one best-effort write failure against backend.
func (r *Recorder) IncBackendWriteFailure(backend string) {
	r.backendWriteFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// ObserveRetrievalLatency records one retrieval call's wall-clock duration.
func (r *Recorder) ObserveRetrievalLatency(milliseconds float64) {
	r.retrievalLatency.Record(context.Background(), milliseconds)
}

// Shutdown flushes and releases the underlying meter provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
