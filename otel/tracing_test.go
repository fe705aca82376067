package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/palisade-labs/chatflow"
	cfotel "github.com/palisade-labs/chatflow/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func pipelineStarted(runID string) chatflow.LogEntry {
	return chatflow.LogEntry{
		Time:   time.Now(),
		Level:  chatflow.LogInfo,
		Logger: "digest:" + runID,
		Event:  chatflow.EventPipelineStarted,
		Fields: map[string]any{"run_id": runID, "pipeline": "digest"},
	}
}

func pipelineFinished(runID string) chatflow.LogEntry {
	return chatflow.LogEntry{
		Time:   time.Now(),
		Level:  chatflow.LogInfo,
		Logger: "digest:" + runID,
		Event:  chatflow.EventPipelineFinished,
		Fields: map[string]any{"run_id": runID, "elapsed_ms": int64(120)},
	}
}

func stepEntry(runID, scope, event string, fields map[string]any) chatflow.LogEntry {
	merged := map[string]any{"run_id": runID, "step": "Multiply"}
	for k, v := range fields {
		merged[k] = v
	}
	return chatflow.LogEntry{
		Time:   time.Now(),
		Level:  chatflow.LogInfo,
		Logger: scope,
		Event:  event,
		Fields: merged,
	}
}

func TestTracingHandler_RunSpanLifecycle(t *testing.T) {
	exporter, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(pipelineStarted("run-1"))

	if !h.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected valid run span context after pipeline.started")
	}

	h.Handle(pipelineFinished("run-1"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(spans))
	}
	if spans[0].Name != "run:digest" {
		t.Errorf("span name = %q, want run:digest", spans[0].Name)
	}
	if h.ActiveRunSpanContext("run-1").IsValid() {
		t.Error("run span still active after pipeline.finished")
	}
}

func TestTracingHandler_StepSpanUnderRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(pipelineStarted("run-1"))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepStarted, nil))

	runSC := h.ActiveRunSpanContext("run-1")
	stepSC := h.ActiveStepSpanContext("Multiply:inv-1")
	if !stepSC.IsValid() {
		t.Fatal("expected valid step span context after step.started")
	}
	if stepSC.TraceID() != runSC.TraceID() {
		t.Error("step span not in the run's trace")
	}

	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepFinished, map[string]any{"elapsed_ms": int64(5)}))
	h.Handle(pipelineFinished("run-1"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2", len(spans))
	}
	if spans[0].Name != "step:Multiply" {
		t.Errorf("first ended span = %q, want step:Multiply", spans[0].Name)
	}
	if spans[0].Status.Code != otelcodes.Ok {
		t.Errorf("step span status = %v, want Ok", spans[0].Status.Code)
	}
}

func TestTracingHandler_StepFailureRecordsError(t *testing.T) {
	exporter, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(pipelineStarted("run-1"))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepStarted, nil))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepFailed, map[string]any{"error": "boom"}))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "boom" {
		t.Errorf("status description = %q, want boom", spans[0].Status.Description)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestTracingHandler_FanOutInvocationsGetSeparateSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(pipelineStarted("run-1"))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepStarted, nil))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepFinished, nil))
	h.Handle(stepEntry("run-1", "Multiply:inv-2", chatflow.EventStepStarted, nil))
	h.Handle(stepEntry("run-1", "Multiply:inv-2", chatflow.EventStepFinished, nil))
	h.Handle(pipelineFinished("run-1"))

	if got := len(exporter.GetSpans()); got != 3 {
		t.Fatalf("len(spans) = %d, want 3", got)
	}
}

func TestTracingHandler_PlainEntriesIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(chatflow.LogEntry{
		Time:    time.Now(),
		Level:   chatflow.LogInfo,
		Logger:  "Multiply:inv-1",
		Message: "running step over 3 contexts",
	})

	if got := len(exporter.GetSpans()); got != 0 {
		t.Fatalf("len(spans) = %d, want 0", got)
	}
}

func TestEnrichHandler_StampsTraceContext(t *testing.T) {
	_, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(pipelineStarted("run-1"))
	h.Handle(stepEntry("run-1", "Multiply:inv-1", chatflow.EventStepStarted, nil))

	var got chatflow.LogEntry
	sink := chatflow.HandlerFunc(func(entry chatflow.LogEntry) { got = entry })
	enriched := cfotel.EnrichHandler(sink, h)

	enriched.Handle(chatflow.LogEntry{
		Logger: "Multiply:inv-1",
		Fields: map[string]any{"run_id": "run-1"},
	})

	want := h.ActiveStepSpanContext("Multiply:inv-1")
	if got.Fields["trace_id"] != want.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", got.Fields["trace_id"], want.TraceID())
	}
	if got.Fields["span_id"] != want.SpanID().String() {
		t.Errorf("span_id = %v, want %s", got.Fields["span_id"], want.SpanID())
	}
}

func TestEnrichHandler_NoSpanPassesThrough(t *testing.T) {
	_, tp := newTestTracer()
	h := cfotel.NewTracingHandler(tp.Tracer("test"))

	var got chatflow.LogEntry
	sink := chatflow.HandlerFunc(func(entry chatflow.LogEntry) { got = entry })
	cfotel.EnrichHandler(sink, h).Handle(chatflow.LogEntry{Logger: "Multiply:inv-9"})

	if _, ok := got.Fields["trace_id"]; ok {
		t.Error("trace_id stamped without an active span")
	}
}
