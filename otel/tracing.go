// Package otel bridges pipeline lifecycle log events to OpenTelemetry. The
// handlers here implement chatflow.LogHandler and are meant to be attached
// through a log handler factory, so every run and step invocation gets its
// own span and metric samples.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/palisade-labs/chatflow"
)

// TracingHandler translates lifecycle log events into OpenTelemetry spans.
// It maintains maps of active run and step spans, creating and ending them
// based on the event kind carried by each entry.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span       // runID -> span
	runCtxs   map[string]context.Context  // runID -> context (for child spans)
	stepSpans map[string]trace.Span       // logger scope -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from lifecycle events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
	}
}

var _ chatflow.LogHandler = (*TracingHandler)(nil)

// Handle processes a log entry and creates or ends spans accordingly. Entries
// without a lifecycle event kind are ignored.
func (h *TracingHandler) Handle(entry chatflow.LogEntry) {
	switch entry.Event {
	case chatflow.EventPipelineStarted:
		h.handlePipelineStarted(entry)
	case chatflow.EventStepStarted:
		h.handleStepStarted(entry)
	case chatflow.EventStepFinished:
		h.handleStepFinished(entry)
	case chatflow.EventStepFailed:
		h.handleStepFailed(entry)
	case chatflow.EventPipelineFinished:
		h.handlePipelineFinished(entry, false)
	case chatflow.EventPipelineCancelled:
		h.handlePipelineFinished(entry, true)
	}
}

// handlePipelineStarted creates a root span for the run.
func (h *TracingHandler) handlePipelineStarted(entry chatflow.LogEntry) {
	runID := fieldString(entry, "run_id")
	if runID == "" {
		return
	}

	spanName := "run:" + runID
	if pipeline := fieldString(entry, "pipeline"); pipeline != "" {
		spanName = "run:" + pipeline
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("chatflow.run_id", runID),
		),
		trace.WithTimestamp(entry.Time),
	)

	if pipeline := fieldString(entry, "pipeline"); pipeline != "" {
		span.SetAttributes(attribute.String("chatflow.pipeline", pipeline))
	}

	h.mu.Lock()
	h.runSpans[runID] = span
	h.runCtxs[runID] = ctx
	h.mu.Unlock()
}

// handleStepStarted creates a child span under the run span. The entry's
// logger scope is unique per invocation, so fan-out invocations of the same
// step each get their own span.
func (h *TracingHandler) handleStepStarted(entry chatflow.LogEntry) {
	runID := fieldString(entry, "run_id")

	h.mu.RLock()
	parentCtx, ok := h.runCtxs[runID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	spanName := "step:" + fieldString(entry, "step")

	_, span := h.tracer.Start(parentCtx, spanName,
		trace.WithAttributes(
			attribute.String("chatflow.run_id", runID),
			attribute.String("chatflow.step", fieldString(entry, "step")),
		),
		trace.WithTimestamp(entry.Time),
	)

	h.mu.Lock()
	h.stepSpans[entry.Logger] = span
	h.mu.Unlock()
}

// handleStepFinished ends the step span with success status.
func (h *TracingHandler) handleStepFinished(entry chatflow.LogEntry) {
	span, ok := h.takeStepSpan(entry.Logger)
	if !ok {
		return
	}
	if elapsed, found := fieldInt64(entry, "elapsed_ms"); found {
		span.SetAttributes(attribute.Int64("chatflow.elapsed_ms", elapsed))
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(entry.Time))
}

// handleStepFailed ends the step span with error status.
func (h *TracingHandler) handleStepFailed(entry chatflow.LogEntry) {
	span, ok := h.takeStepSpan(entry.Logger)
	if !ok {
		return
	}
	errMsg := fieldString(entry, "error")
	if errMsg == "" {
		errMsg = "unknown error"
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(entry.Time))
	span.End(trace.WithTimestamp(entry.Time))
}

// handlePipelineFinished ends the root run span.
func (h *TracingHandler) handlePipelineFinished(entry chatflow.LogEntry, cancelled bool) {
	runID := fieldString(entry, "run_id")

	h.mu.Lock()
	span, ok := h.runSpans[runID]
	if ok {
		delete(h.runSpans, runID)
		delete(h.runCtxs, runID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if elapsed, found := fieldInt64(entry, "elapsed_ms"); found {
		span.SetAttributes(attribute.Int64("chatflow.elapsed_ms", elapsed))
	}
	if cancelled {
		span.SetAttributes(attribute.String("chatflow.status", "cancelled"))
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(entry.Time))
}

// takeStepSpan removes and returns the active span for a logger scope.
func (h *TracingHandler) takeStepSpan(scope string) (trace.Span, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	span, ok := h.stepSpans[scope]
	if ok {
		delete(h.stepSpans, scope)
	}
	return span, ok
}

// ActiveStepSpanContext returns the SpanContext for the active step span
// identified by its logger scope. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveStepSpanContext(scope string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[scope]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func fieldString(entry chatflow.LogEntry, key string) string {
	if value, ok := entry.Fields[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

func fieldInt64(entry chatflow.LogEntry, key string) (int64, bool) {
	value, ok := entry.Fields[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
