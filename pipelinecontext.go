package chatflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PipelineContext is the run-scoped state shared by reference across every
// step in a pipeline invocation. Its Params map is an intentional,
// documented side channel: steps may write configuration into it for
// downstream steps to read, and write-then-read ordering across steps is the
// intended mechanism. Execution is single-threaded per run, so no locking
// guards the map.
type PipelineContext struct {
	// Run is the owning run record. Nil in unit tests; cancellation is
	// then always false and run-derived collaborators are unavailable.
	Run Run

	// Params is the mutable ambient parameter bag, keyed by a global
	// parameter name or by a step name (whose value is then a nested map
	// applied only to that step).
	Params map[string]any

	// CreateResources enables resource materialization. When false,
	// CreateResource is a no-op returning nil.
	CreateResources bool

	logFactory  LogHandlerFactory
	resources   ResourceStore
	serializers SerializerRegistry

	runID     string
	cancelled bool
	llm       LLMClient
}

// PipelineContextOption configures a PipelineContext.
type PipelineContextOption func(*PipelineContext)

// WithRun attaches the owning run record.
func WithRun(run Run) PipelineContextOption {
	return func(pc *PipelineContext) { pc.Run = run }
}

// WithLogFactory sets the per-scope log handler factory.
func WithLogFactory(factory LogHandlerFactory) PipelineContextOption {
	return func(pc *PipelineContext) { pc.logFactory = factory }
}

// WithParams seeds the ambient parameter bag.
func WithParams(params map[string]any) PipelineContextOption {
	return func(pc *PipelineContext) {
		for k, v := range params {
			pc.Params[k] = v
		}
	}
}

// WithStores injects the resource store and serializer registry.
func WithStores(store ResourceStore, serializers SerializerRegistry) PipelineContextOption {
	return func(pc *PipelineContext) {
		pc.resources = store
		pc.serializers = serializers
	}
}

// WithResourceCreation enables resource materialization.
func WithResourceCreation() PipelineContextOption {
	return func(pc *PipelineContext) { pc.CreateResources = true }
}

// WithLLMClient overrides the run-derived LLM service. Mainly for tests.
func WithLLMClient(client LLMClient) PipelineContextOption {
	return func(pc *PipelineContext) { pc.llm = client }
}

// NewPipelineContext creates a context for one pipeline invocation.
func NewPipelineContext(opts ...PipelineContextOption) *PipelineContext {
	pc := &PipelineContext{
		Params: make(map[string]any),
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// RunID returns the engine-assigned id for this invocation. Set by
// Pipeline.Run; empty before the run starts.
func (pc *PipelineContext) RunID() string {
	return pc.runID
}

// LogFactory returns the per-scope log handler factory, or nil.
func (pc *PipelineContext) LogFactory() LogHandlerFactory {
	return pc.logFactory
}

// Resources returns the injected resource store, or nil.
func (pc *PipelineContext) Resources() ResourceStore {
	return pc.resources
}

// Serializers returns the injected serializer registry, or nil.
func (pc *PipelineContext) Serializers() SerializerRegistry {
	return pc.serializers
}

// IsCancelled re-reads the run's status from its backing store and reports
// whether the run was cancelled externally. Once observed true it is latched
// for the rest of this context's lifetime. Without a run attached it is
// always false. A status read failure is treated as not cancelled; the next
// poll retries.
func (pc *PipelineContext) IsCancelled(ctx context.Context) bool {
	if pc.cancelled {
		return true
	}
	if pc.Run == nil {
		return false
	}
	status, err := pc.Run.Status(ctx)
	if err != nil {
		return false
	}
	if status.Cancelled() {
		pc.cancelled = true
	}
	return pc.cancelled
}

// LLMService returns the LLM client for this run, deriving it from the run
// record on first use and caching it afterwards.
func (pc *PipelineContext) LLMService() (LLMClient, error) {
	if pc.llm != nil {
		return pc.llm, nil
	}
	if pc.Run == nil {
		return nil, fmt.Errorf("llm service: %w", ErrNoRun)
	}
	client, err := pc.Run.LLMService()
	if err != nil {
		return nil, err
	}
	pc.llm = client
	return client, nil
}

// CreateResource materializes data as a stored resource named after the run,
// group, and analysis identifiers. It is a no-op returning nil unless the
// context was configured to create resources. With serialize true the body
// and metadata come from the serializer matching the data's shape; with
// serialize false the data is written raw and the caller must supply the
// metadata. The created resource is registered against the owning run.
func (pc *PipelineContext) CreateResource(ctx context.Context, data any, name string, serialize bool, metadata map[string]any) (*Resource, error) {
	if !pc.CreateResources {
		return nil, nil
	}
	if pc.resources == nil {
		return nil, errors.New("resource creation enabled without a resource store")
	}

	var body bytes.Buffer
	var md map[string]any
	var typ ResourceType

	if serialize {
		if pc.serializers == nil {
			return nil, errors.New("resource creation enabled without a serializer registry")
		}
		ser, err := pc.serializers.ForData(data)
		if err != nil {
			return nil, err
		}
		if err := ser.Write(data, &body); err != nil {
			return nil, fmt.Errorf("serializing resource %q: %w", name, err)
		}
		md = ser.Metadata(data)
		typ = ser.ResourceType()
	} else {
		if metadata == nil {
			return nil, errors.New("metadata is required when writing raw data")
		}
		raw, err := rawBytes(data)
		if err != nil {
			return nil, fmt.Errorf("writing raw resource %q: %w", name, err)
		}
		body.Write(raw)
		md = metadata
		typ = ResourceText
	}

	for k, v := range metadata {
		if md == nil {
			md = make(map[string]any)
		}
		md[k] = v
	}

	team := ""
	if pc.Run != nil {
		team = pc.Run.Team()
	}
	res := NewResource("", team, pc.qualifiedName(name), typ, md, nil)
	created, err := pc.resources.Create(ctx, res, &body)
	if err != nil {
		return nil, fmt.Errorf("creating resource %q: %w", name, err)
	}
	if pc.Run != nil {
		if err := pc.Run.AddOutput(ctx, created); err != nil {
			return nil, fmt.Errorf("registering resource %q: %w", name, err)
		}
	}
	return created, nil
}

// qualifiedName prefixes name with the analysis, group, and run identifiers
// that are present.
func (pc *PipelineContext) qualifiedName(name string) string {
	var parts []string
	if pc.Run != nil {
		for _, id := range []string{pc.Run.AnalysisID(), pc.Run.GroupID(), pc.Run.ID()} {
			if id != "" {
				parts = append(parts, id)
			}
		}
	} else if pc.runID != "" {
		parts = append(parts, pc.runID)
	}
	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, "/") + ": " + name
}

func rawBytes(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		return io.ReadAll(v)
	default:
		return nil, fmt.Errorf("raw data must be bytes, string, or reader, got %T", data)
	}
}
