package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory schedule store for tests and single-process
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: map[string]Schedule{}}
}

// Put inserts or replaces a schedule.
func (m *MemoryStore) Put(schedule Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[schedule.ID] = cloneSchedule(schedule)
}

// ListDue returns enabled schedules due at or before now, oldest first.
func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []Schedule
	for _, schedule := range m.schedules {
		if schedule.Enabled && !schedule.NextRunAt.After(now) {
			due = append(due, cloneSchedule(schedule))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schedule, ok := m.schedules[id]
	if !ok {
		return Schedule{}, false, nil
	}
	return cloneSchedule(schedule), true, nil
}

func (m *MemoryStore) Update(_ context.Context, schedule Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func cloneSchedule(s Schedule) Schedule {
	out := s
	if s.Params != nil {
		out.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	if s.LastRunAt != nil {
		at := *s.LastRunAt
		out.LastRunAt = &at
	}
	return out
}
