package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/palisade-labs/chatflow"
)

// MetricsHandler translates lifecycle log events into OpenTelemetry metrics.
// It records counters and histograms for step executions, failures, and run
// durations.
type MetricsHandler struct {
	stepExecutions metric.Int64Counter
	stepFailures   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording pipeline metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	stepExec, err := meter.Int64Counter("chatflow.step.executions",
		metric.WithDescription("Number of step executions"),
	)
	if err != nil {
		return nil, err
	}

	stepFail, err := meter.Int64Counter("chatflow.step.failures",
		metric.WithDescription("Number of step failures"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("chatflow.step.duration",
		metric.WithDescription("Duration of step execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("chatflow.run.duration",
		metric.WithDescription("Duration of pipeline run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		stepExecutions: stepExec,
		stepFailures:   stepFail,
		stepDuration:   stepDur,
		runDuration:    runDur,
	}, nil
}

var _ chatflow.LogHandler = (*MetricsHandler)(nil)

// Handle processes a log entry and records the appropriate metrics.
func (h *MetricsHandler) Handle(entry chatflow.LogEntry) {
	switch entry.Event {
	case chatflow.EventStepFinished:
		h.handleStepFinished(entry)
	case chatflow.EventStepFailed:
		h.handleStepFailed(entry)
	case chatflow.EventPipelineFinished, chatflow.EventPipelineCancelled:
		h.handlePipelineFinished(entry)
	}
}

// handleStepFinished increments the execution counter and records duration.
func (h *MetricsHandler) handleStepFinished(entry chatflow.LogEntry) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("step", fieldString(entry, "step")),
	)
	h.stepExecutions.Add(ctx, 1, attrs)
	if elapsed, ok := fieldInt64(entry, "elapsed_ms"); ok {
		h.stepDuration.Record(ctx, float64(elapsed)/1000, attrs)
	}
}

// handleStepFailed increments both counters.
func (h *MetricsHandler) handleStepFailed(entry chatflow.LogEntry) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("step", fieldString(entry, "step")),
	)
	h.stepExecutions.Add(ctx, 1, attrs)
	h.stepFailures.Add(ctx, 1, attrs)
}

// handlePipelineFinished records the run duration.
func (h *MetricsHandler) handlePipelineFinished(entry chatflow.LogEntry) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("run_id", fieldString(entry, "run_id")),
	)
	if elapsed, ok := fieldInt64(entry, "elapsed_ms"); ok {
		h.runDuration.Record(ctx, float64(elapsed)/1000, attrs)
	}
}
