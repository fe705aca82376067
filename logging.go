package chatflow

import (
	"fmt"
	"sync"
	"time"
)

// LogLevel classifies a log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Lifecycle event kinds attached to engine log entries. Hosts and the otel
// package key span/metric handling off these.
const (
	EventPipelineStarted   = "pipeline.started"
	EventPipelineFinished  = "pipeline.finished"
	EventPipelineCancelled = "pipeline.cancelled"
	EventStepStarted       = "step.started"
	EventStepFinished      = "step.finished"
	EventStepFailed        = "step.failed"
)

// LogEntry is a structured record emitted by the engine. The engine imposes
// no format contract; handlers route entries however the host wants.
type LogEntry struct {
	// Time is when the entry was emitted.
	Time time.Time

	// Level classifies the entry.
	Level LogLevel

	// Logger is the emitting scope, "name:id".
	Logger string

	// Event is the lifecycle event kind, empty for plain entries.
	Event string

	// Message is the human-readable text.
	Message string

	// Fields carries structured context (run_id, step, elapsed_ms, ...).
	// Keep it small.
	Fields map[string]any
}

// LogHandler receives entries from a Logger it is attached to.
type LogHandler interface {
	Handle(entry LogEntry)
}

// LogHandlerFactory builds a handler for a per-invocation scope id. The
// pipeline attaches one handler per step invocation and one for the run
// itself, and detaches them when the scope completes.
type LogHandlerFactory func(id string) LogHandler

// HandlerFunc adapts a function to the LogHandler interface.
type HandlerFunc func(entry LogEntry)

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(entry LogEntry) {
	f(entry)
}

// Logger fans entries out to attached handlers. A logger is scoped to a
// (name, id) pair: the step or pipeline name plus its per-invocation id.
type Logger struct {
	name string
	id   string

	mu       sync.Mutex
	handlers []LogHandler
}

// NewLogger creates a logger scoped to (name, id).
func NewLogger(name, id string) *Logger {
	return &Logger{name: name, id: id}
}

// Scope returns the logger's "name:id" scope string.
func (l *Logger) Scope() string {
	return l.name + ":" + l.id
}

// Attach adds a handler to the logger.
func (l *Logger) Attach(h LogHandler) {
	if h == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Detach removes a previously attached handler, by identity.
func (l *Logger) Detach(h LogHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.handlers {
		if existing == h {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// Emit sends a structured entry to every attached handler.
func (l *Logger) Emit(level LogLevel, event, message string, fields map[string]any) {
	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Logger:  l.Scope(),
		Event:   event,
		Message: message,
		Fields:  fields,
	}
	l.mu.Lock()
	handlers := make([]LogHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()
	for _, h := range handlers {
		h.Handle(entry)
	}
}

// Debugf emits a formatted debug entry.
func (l *Logger) Debugf(format string, args ...any) {
	l.Emit(LogDebug, "", fmt.Sprintf(format, args...), nil)
}

// Infof emits a formatted info entry.
func (l *Logger) Infof(format string, args ...any) {
	l.Emit(LogInfo, "", fmt.Sprintf(format, args...), nil)
}

// Warnf emits a formatted warning entry.
func (l *Logger) Warnf(format string, args ...any) {
	l.Emit(LogWarn, "", fmt.Sprintf(format, args...), nil)
}

// Errorf emits a formatted error entry.
func (l *Logger) Errorf(format string, args ...any) {
	l.Emit(LogError, "", fmt.Sprintf(format, args...), nil)
}

// MemoryHandler collects entries for inspection. Useful in tests and for
// attaching a run's log tail to its record.
type MemoryHandler struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewMemoryHandler creates an empty MemoryHandler.
func NewMemoryHandler() *MemoryHandler {
	return &MemoryHandler{}
}

// Handle records the entry.
func (h *MemoryHandler) Handle(entry LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// Entries returns a copy of the recorded entries in emission order.
func (h *MemoryHandler) Entries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Ensure interface compliance at compile time.
var (
	_ LogHandler = (HandlerFunc)(nil)
	_ LogHandler = (*MemoryHandler)(nil)
)
