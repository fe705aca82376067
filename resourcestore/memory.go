// Package resourcestore provides ResourceStore implementations: an in-memory
// store for tests and embedded use, and a SQLite-backed store for durable
// single-node deployments.
package resourcestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/palisade-labs/chatflow"
)

// Memory is a map-backed resource store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	bodies  map[string][]byte
	records map[string]*chatflow.Resource
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bodies:  make(map[string][]byte),
		records: make(map[string]*chatflow.Resource),
	}
}

// Get returns the resource with the given id.
func (s *Memory) Get(ctx context.Context, id string) (*chatflow.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("resource %s not found", id)
	}
	return res, nil
}

// Create persists a new resource, assigning it an id. The input handle is not
// mutated; the returned handle opens over a private copy of the body.
func (s *Memory) Create(ctx context.Context, res *chatflow.Resource, body io.Reader) (*chatflow.Resource, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading resource body: %w", err)
	}

	id := uuid.NewString()
	created := chatflow.NewResource(id, res.Team, res.Name, res.Type, res.Metadata,
		func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[id] = data
	s.records[id] = created
	return created, nil
}

var _ chatflow.ResourceStore = (*Memory)(nil)
