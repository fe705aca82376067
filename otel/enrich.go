package otel

import (
	"github.com/palisade-labs/chatflow"
)

// EnrichHandler wraps a log handler with OpenTelemetry trace context. Before
// forwarding an entry, it looks up the active span from the TracingHandler
// and stamps trace_id and span_id fields onto it.
//
// The step span for the entry's logger scope is checked first. If none is
// active, the run-level span is used. When no span is active the entry passes
// through unchanged.
func EnrichHandler(next chatflow.LogHandler, tracing *TracingHandler) chatflow.LogHandler {
	return chatflow.HandlerFunc(func(entry chatflow.LogEntry) {
		sc := tracing.ActiveStepSpanContext(entry.Logger)
		if !sc.IsValid() {
			if runID := fieldString(entry, "run_id"); runID != "" {
				sc = tracing.ActiveRunSpanContext(runID)
			}
		}
		if sc.IsValid() {
			fields := make(map[string]any, len(entry.Fields)+2)
			for k, v := range entry.Fields {
				fields[k] = v
			}
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
			entry.Fields = fields
		}
		next.Handle(entry)
	})
}
