// Package chatflow is a pipeline engine for LLM-backed chat transcript
// analysis. A Pipeline is an ordered chain of Steps; each step consumes a
// StepContext, may fan out into several, and shares run-scoped state through
// a PipelineContext. Collaborators (resource store, serializers, the LLM
// service, the run record) are injected through narrow interfaces so the
// engine itself stays in-process and host-agnostic.
package chatflow

import (
	"context"
	"io"
)

// DataType declares what a step consumes or produces. The pipeline compares
// these at construction time; TypeAny is the wildcard and matches anything.
type DataType string

const (
	// TypeAny matches any other type during pipeline validation.
	TypeAny DataType = "any"

	// TypeNone marks steps that take no meaningful input (loaders).
	TypeNone DataType = "none"

	// TypeText is a plain string payload.
	TypeText DataType = "text"

	// TypeTable is a time-indexed tabular payload (*Table).
	TypeTable DataType = "table"

	// TypeNumber is a numeric payload (float64).
	TypeNumber DataType = "number"
)

// String returns the string representation of the DataType.
func (t DataType) String() string {
	return string(t)
}

// ResourceType identifies the on-disk format of a stored resource.
type ResourceType string

const (
	ResourceCSV   ResourceType = "csv"
	ResourceJSON  ResourceType = "json"
	ResourceJSONL ResourceType = "jsonl"
	ResourceText  ResourceType = "text"
	ResourceXLSX  ResourceType = "xlsx"
)

// RunStatus is the lifecycle state of an analysis run, as persisted by the
// host. The engine only ever reads it, to observe external cancellation.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusRunning    RunStatus = "running"
	RunStatusSuccess    RunStatus = "success"
	RunStatusError      RunStatus = "error"
	RunStatusCancelling RunStatus = "cancelling"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Cancelled reports whether the status means the run should stop.
func (s RunStatus) Cancelled() bool {
	return s == RunStatusCancelling || s == RunStatusCancelled
}

// Run is the handle to the externally persisted run record that owns a
// pipeline invocation. Status must re-read the backing store on every call so
// that mid-run cancellation is observed.
type Run interface {
	// ID returns the run's unique identifier.
	ID() string

	// GroupID returns the identifier of the run group, if any.
	GroupID() string

	// AnalysisID returns the identifier of the owning analysis.
	AnalysisID() string

	// Team returns the owning team slug.
	Team() string

	// Status re-reads the run's status from its backing store.
	Status(ctx context.Context) (RunStatus, error)

	// LLMService returns the LLM client configured for the owning team.
	LLMService() (LLMClient, error)

	// AddOutput registers a created resource against the run's outputs.
	AddOutput(ctx context.Context, res *Resource) error
}

// LLMRequest is a transport-agnostic chat completion request.
type LLMRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
}

// LLMUsage tracks token consumption for an LLM call.
type LLMUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// LLMResponse captures the output of an LLM call.
type LLMResponse struct {
	Text     string
	Model    string
	Provider string
	Usage    LLMUsage
}

// LLMClient abstracts a single provider/model backend.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// ResourceStore persists and retrieves resources (externally stored
// artifacts a StepContext may reference instead of holding data inline).
type ResourceStore interface {
	// Get returns the resource with the given id.
	Get(ctx context.Context, id string) (*Resource, error)

	// Create persists a new resource with the given body. The returned
	// resource carries the assigned id and can be opened for reading.
	Create(ctx context.Context, res *Resource, body io.Reader) (*Resource, error)
}

// Serializer reads and writes one payload shape to a resource body.
type Serializer interface {
	// Read decodes a resource body. Metadata carries the declared schema
	// for shapes that need one (tabular data).
	Read(r io.Reader, metadata map[string]any) (any, error)

	// Write encodes data to w.
	Write(data any, w io.Writer) error

	// Metadata returns the metadata to store alongside written data,
	// including any schema needed to round-trip it.
	Metadata(data any) map[string]any

	// Summary returns a short human-readable description of data.
	Summary(data any) string

	// ResourceType returns the resource type this serializer produces.
	ResourceType() ResourceType
}

// SerializerRegistry resolves serializers by name, by resource type, or by
// inspecting a payload.
type SerializerRegistry interface {
	ByName(name string) (Serializer, error)
	ByType(t ResourceType) (Serializer, error)
	ForData(data any) (Serializer, error)
}
