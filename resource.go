package chatflow

import (
	"context"
	"errors"
	"io"
)

// Resource is an externally persisted artifact: a typed body plus metadata.
// StepContexts may carry a Resource handle instead of inline data; the body
// is opened lazily through the store that created the handle.
type Resource struct {
	ID       string
	Team     string
	Name     string
	Type     ResourceType
	Metadata map[string]any

	opener func(ctx context.Context) (io.ReadCloser, error)
}

// NewResource builds a resource handle. The opener may be nil for handles
// that have not been persisted yet.
func NewResource(id, team, name string, typ ResourceType, metadata map[string]any, opener func(ctx context.Context) (io.ReadCloser, error)) *Resource {
	return &Resource{
		ID:       id,
		Team:     team,
		Name:     name,
		Type:     typ,
		Metadata: metadata,
		opener:   opener,
	}
}

// Open returns a reader over the resource body.
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.opener == nil {
		return nil, errors.New("resource " + r.ID + " has no readable body")
	}
	return r.opener(ctx)
}

// SetOpener attaches the body reader. Called by resource stores when a
// handle is persisted or loaded.
func (r *Resource) SetOpener(opener func(ctx context.Context) (io.ReadCloser, error)) {
	r.opener = opener
}
