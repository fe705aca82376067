package runstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/palisade-labs/chatflow"
)

// Memory is a map-backed run store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

// Create persists a new record.
func (s *Memory) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("run %s already exists", rec.ID)
	}
	clone := *rec
	clone.Outputs = append([]string(nil), rec.Outputs...)
	now := time.Now().UTC()
	if clone.Created.IsZero() {
		clone.Created = now
	}
	clone.Updated = now
	s.records[rec.ID] = &clone
	return nil
}

// Get returns a copy of the record with the given id.
func (s *Memory) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	clone := *rec
	clone.Outputs = append([]string(nil), rec.Outputs...)
	return &clone, nil
}

// SetStatus updates the record's status.
func (s *Memory) SetStatus(ctx context.Context, id string, status chatflow.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	rec.Status = status
	rec.Updated = time.Now().UTC()
	return nil
}

// AddOutput appends a resource id to the record's outputs.
func (s *Memory) AddOutput(ctx context.Context, id, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	rec.Outputs = append(rec.Outputs, resourceID)
	rec.Updated = time.Now().UTC()
	return nil
}

var _ Store = (*Memory)(nil)
