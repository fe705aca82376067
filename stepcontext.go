package chatflow

import (
	"context"
	"fmt"
)

// InitialContextName is the seed context's default name.
const InitialContextName = "Initial"

// StepContext is the payload-carrying envelope passed between steps. Each
// context is produced by exactly one step (or is the initial seed) and
// consumed by the next step in the chain; a step returning several contexts
// fans the rest of the pipeline out, one sub-invocation per context.
type StepContext struct {
	// Data is the inline payload. May be nil for lazy contexts that only
	// carry a resource handle.
	Data any

	// Name identifies the context. Left empty by step runners, it is
	// stamped with the producing step's name.
	Name string

	// Metadata carries auxiliary per-context values (group labels, ...).
	Metadata map[string]any

	resource *Resource
}

// NewStepContext creates an unnamed context around data. Step runners use
// this for their outputs; the engine names them afterwards.
func NewStepContext(data any) *StepContext {
	return &StepContext{Data: data, Metadata: make(map[string]any)}
}

// Initial creates the pipeline's seed context.
func Initial(data any) *StepContext {
	c := NewStepContext(data)
	c.Name = InitialContextName
	return c
}

// WithName sets the context name and returns the context for chaining.
func (c *StepContext) WithName(name string) *StepContext {
	c.Name = name
	return c
}

// WithMetadata sets a metadata entry and returns the context for chaining.
func (c *StepContext) WithMetadata(key string, value any) *StepContext {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// WithResource attaches an already materialized resource handle.
func (c *StepContext) WithResource(res *Resource) *StepContext {
	c.resource = res
	return c
}

// Resource returns the attached resource handle, or nil.
func (c *StepContext) Resource() *Resource {
	return c.resource
}

// GetOrCreateResource returns the context's resource handle, materializing
// one from Data through the pipeline context on first call. The handle is
// memoized: later calls return the same resource without writing again.
// Returns nil when the pipeline context does not create resources.
func (c *StepContext) GetOrCreateResource(ctx context.Context, pc *PipelineContext) (*Resource, error) {
	if c.resource != nil {
		return c.resource, nil
	}
	res, err := pc.CreateResource(ctx, c.Data, c.Name, true, nil)
	if err != nil {
		return nil, err
	}
	if res != nil {
		c.resource = res
	}
	return res, nil
}

// GetData returns the inline payload, or dereferences the attached resource
// through the serializer matching its declared type. Supports lazy contexts
// that only carry a resource pointer.
func (c *StepContext) GetData(ctx context.Context, pc *PipelineContext) (any, error) {
	if c.Data != nil {
		return c.Data, nil
	}
	if c.resource == nil {
		return nil, nil
	}
	serializers := pc.Serializers()
	if serializers == nil {
		return nil, fmt.Errorf("reading resource %s: no serializer registry configured", c.resource.ID)
	}
	ser, err := serializers.ByType(c.resource.Type)
	if err != nil {
		return nil, fmt.Errorf("reading resource %s: %w", c.resource.ID, err)
	}
	body, err := c.resource.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening resource %s: %w", c.resource.ID, err)
	}
	defer body.Close()
	data, err := ser.Read(body, c.resource.Metadata)
	if err != nil {
		return nil, fmt.Errorf("reading resource %s: %w", c.resource.ID, err)
	}
	c.Data = data
	return data, nil
}
