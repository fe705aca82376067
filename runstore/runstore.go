// Package runstore persists analysis run records and exposes them to the
// engine through the Run handle. A run's status is the cancellation channel
// between the host and a pipeline in flight: the host flips the stored status
// and the engine observes it on its next poll.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/palisade-labs/chatflow"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("run not found")

// Record is the persisted state of one analysis run.
type Record struct {
	ID         string
	GroupID    string
	AnalysisID string
	Team       string
	Status     chatflow.RunStatus

	// Provider and Model select the LLM backend for this run's team.
	Provider string
	Model    string

	// Outputs lists the resource ids produced by the run, in creation order.
	Outputs []string

	Created time.Time
	Updated time.Time
}

// Store persists run records.
type Store interface {
	// Create persists a new record. The record's ID must be set.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// SetStatus updates the record's status.
	SetStatus(ctx context.Context, id string, status chatflow.RunStatus) error

	// AddOutput appends a resource id to the record's outputs.
	AddOutput(ctx context.Context, id, resourceID string) error
}

// Handle adapts a stored run record to the engine's Run interface. Identity
// fields are cached from the record at construction; Status re-queries the
// store on every call so external cancellation is observed mid-run.
type Handle struct {
	store Store
	llm   chatflow.LLMClient

	id       string
	group    string
	analysis string
	team     string
}

// NewHandle wraps a stored record for the engine. The LLM client is the one
// configured for the record's team and may be nil when no LLM step runs.
func NewHandle(store Store, rec *Record, llm chatflow.LLMClient) *Handle {
	return &Handle{
		store:    store,
		llm:      llm,
		id:       rec.ID,
		group:    rec.GroupID,
		analysis: rec.AnalysisID,
		team:     rec.Team,
	}
}

// ID returns the run's unique identifier.
func (h *Handle) ID() string { return h.id }

// GroupID returns the identifier of the run group, if any.
func (h *Handle) GroupID() string { return h.group }

// AnalysisID returns the identifier of the owning analysis.
func (h *Handle) AnalysisID() string { return h.analysis }

// Team returns the owning team slug.
func (h *Handle) Team() string { return h.team }

// Status re-reads the run's status from the backing store.
func (h *Handle) Status(ctx context.Context) (chatflow.RunStatus, error) {
	rec, err := h.store.Get(ctx, h.id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// LLMService returns the LLM client configured for the run's team.
func (h *Handle) LLMService() (chatflow.LLMClient, error) {
	if h.llm == nil {
		return nil, errors.New("run " + h.id + " has no LLM service configured")
	}
	return h.llm, nil
}

// AddOutput registers a created resource against the run's outputs.
func (h *Handle) AddOutput(ctx context.Context, res *chatflow.Resource) error {
	return h.store.AddOutput(ctx, h.id, res.ID)
}

var _ chatflow.Run = (*Handle)(nil)
