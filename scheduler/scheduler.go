// Package scheduler runs pipeline definitions on cron schedules. Schedules
// live in a store, a background loop polls for due ones, and a semaphore caps
// how many runs execute at once. A schedule whose prior run is still active
// is skipped rather than overlapped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultBatchLimit    = 100
	defaultMaxConcurrent = 4
)

// RunOutcome records how a schedule's most recent run ended.
type RunOutcome string

const (
	OutcomeRunning        RunOutcome = "running"
	OutcomeCompleted      RunOutcome = "completed"
	OutcomeFailed         RunOutcome = "failed"
	OutcomeSkippedOverlap RunOutcome = "skipped_overlap"
)

// Schedule is a pipeline definition run on a cron expression.
type Schedule struct {
	ID         string
	Name       string
	Cron       string
	Definition string
	Params     map[string]any
	Enabled    bool
	NextRunAt  time.Time
	LastRunAt  *time.Time
	LastRunID  string
	LastStatus RunOutcome
	LastError  string
	UpdatedAt  time.Time
}

// Store persists schedules and their run bookkeeping.
type Store interface {
	// ListDue returns enabled schedules with NextRunAt at or before now,
	// up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
	Get(ctx context.Context, id string) (Schedule, bool, error)
	Update(ctx context.Context, schedule Schedule) error
}

// Runner executes a scheduled pipeline run and returns its run id.
type Runner interface {
	RunSchedule(ctx context.Context, schedule Schedule) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, schedule Schedule) (string, error)

func (f RunnerFunc) RunSchedule(ctx context.Context, schedule Schedule) (string, error) {
	return f(ctx, schedule)
}

// Config configures a Scheduler.
type Config struct {
	Runner        Runner
	Store         Store
	PollInterval  time.Duration
	BatchLimit    int
	MaxConcurrent int
	Now           func() time.Time
	Logger        *slog.Logger
}

// Scheduler periodically executes due schedules.
type Scheduler struct {
	runner       Runner
	store        Store
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger
	slots        *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler instance.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler runner is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("scheduler store is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		runner:       cfg.Runner,
		store:        cfg.Store,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		active:       map[string]struct{}{},
	}, nil
}

// Start starts background polling. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() error {
	if s == nil {
		return errors.New("scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// Stop stops background polling and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass over due schedules.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s == nil || s.store == nil || s.runner == nil {
		return errors.New("scheduler is not configured")
	}

	now := s.now().UTC()
	due, err := s.store.ListDue(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, schedule := range due {
		s.processDue(ctx, schedule, now)
	}
	return nil
}

func (s *Scheduler) processDue(ctx context.Context, schedule Schedule, now time.Time) {
	if !schedule.Enabled {
		return
	}

	if s.isActive(schedule.ID) {
		s.markSkippedOverlap(ctx, schedule, now)
		return
	}

	nextRunAt, err := NextRunUTC(schedule.Cron, now)
	if err != nil {
		s.markFailure(ctx, schedule, now, err)
		return
	}

	schedule.NextRunAt = nextRunAt
	schedule.LastStatus = OutcomeRunning
	schedule.LastError = ""
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("update schedule before run", "schedule_id", schedule.ID, "error", err)
		return
	}

	s.markActive(schedule.ID)
	go s.runSchedule(schedule)
}

func (s *Scheduler) runSchedule(schedule Schedule) {
	defer s.unmarkActive(schedule.ID)

	// Blocks until a slot frees up, so the concurrency cap holds even when
	// a poll pass finds more due schedules than slots.
	if err := s.slots.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	runID, runErr := s.runner.RunSchedule(context.Background(), schedule)

	finish := s.now().UTC()
	latest, found, err := s.store.Get(context.Background(), schedule.ID)
	if err != nil {
		s.logger.Error("load schedule after run", "schedule_id", schedule.ID, "error", err)
		return
	}
	if !found {
		return
	}

	latest.UpdatedAt = finish
	latest.LastRunAt = &finish
	if runErr != nil {
		latest.LastStatus = OutcomeFailed
		latest.LastError = runErr.Error()
	} else {
		latest.LastStatus = OutcomeCompleted
		latest.LastError = ""
		latest.LastRunID = runID
	}

	if err := s.store.Update(context.Background(), latest); err != nil {
		s.logger.Error("persist schedule run result", "schedule_id", schedule.ID, "error", err)
	}
}

func (s *Scheduler) markSkippedOverlap(ctx context.Context, schedule Schedule, now time.Time) {
	nextRunAt, err := NextRunUTC(schedule.Cron, now)
	if err != nil {
		s.markFailure(ctx, schedule, now, err)
		return
	}

	schedule.NextRunAt = nextRunAt
	schedule.LastStatus = OutcomeSkippedOverlap
	schedule.LastError = "skipped because prior scheduled run is still active"
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("persist overlap skip", "schedule_id", schedule.ID, "error", err)
	}
}

func (s *Scheduler) markFailure(ctx context.Context, schedule Schedule, now time.Time, runErr error) {
	nextRunAt, nextErr := NextRunUTC(schedule.Cron, now)
	if nextErr == nil {
		schedule.NextRunAt = nextRunAt
	}
	schedule.LastStatus = OutcomeFailed
	schedule.LastError = fmt.Errorf("invalid cron expression: %w", runErr).Error()
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("persist schedule failure", "schedule_id", schedule.ID, "error", err)
	}
}

func (s *Scheduler) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func (s *Scheduler) markActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = struct{}{}
}

func (s *Scheduler) unmarkActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
