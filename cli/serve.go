package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	chatflowotel "github.com/palisade-labs/chatflow/otel"
	"github.com/palisade-labs/chatflow/scheduler"
)

// NewServeCmd creates the "serve" subcommand: a foreground daemon that runs
// pipeline definitions on cron schedules.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run pipeline definitions on cron schedules",
		RunE:  runServe,
	}

	cmd.Flags().StringP("schedules", "s", "", "Path to the schedules YAML file (required)")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "Schedule poll interval")
	cmd.Flags().Int("max-concurrent", 4, "Maximum concurrently executing schedules")
	cmd.Flags().Bool("create-resources", false, "Materialize step outputs as stored resources")
	addConfigFlags(cmd)
	_ = cmd.MarkFlagRequired("schedules")

	return cmd
}

// scheduleFile is the on-disk shape of the schedules list.
type scheduleFile struct {
	Schedules []scheduleEntry `yaml:"schedules"`
}

type scheduleEntry struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Cron       string         `yaml:"cron"`
	Definition string         `yaml:"definition"`
	Params     map[string]any `yaml:"params"`
	Disabled   bool           `yaml:"disabled"`
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	schedulesPath, _ := cmd.Flags().GetString("schedules")
	store, count, err := loadSchedules(schedulesPath, time.Now().UTC())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", schedulesPath)
		}
		return exitError(exitValidation, "%v", err)
	}

	shutdown, err := chatflowotel.Setup(cmd.Context(), chatflowotel.SetupConfig{
		Endpoint: settings.OTLPEndpoint,
		Insecure: settings.OTLPInsecure,
	})
	if err != nil {
		return exitError(exitRuntime, "setting up tracing: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	h, err := newHost(settings, cmd.ErrOrStderr())
	if err != nil {
		return exitError(exitProvider, "%v", err)
	}
	defer h.close()

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	createResources, _ := cmd.Flags().GetBool("create-resources")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")

	sched, err := scheduler.New(scheduler.Config{
		Store:         store,
		PollInterval:  pollInterval,
		MaxConcurrent: maxConcurrent,
		Logger:        logger,
		Runner: scheduler.RunnerFunc(func(ctx context.Context, s scheduler.Schedule) (string, error) {
			runID, _, err := h.executeDefinition(ctx, settings, s.Definition, s.Params, createResources)
			return runID, err
		}),
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	if err := sched.Start(); err != nil {
		return exitError(exitRuntime, "starting scheduler: %v", err)
	}
	logger.Info("scheduler started", "schedules", count, "poll_interval", pollInterval)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}

// loadSchedules parses the schedules file into a populated memory store, each
// schedule seeded with its first fire time after now.
func loadSchedules(path string, now time.Time) (*scheduler.MemoryStore, int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, 0, err
	}
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, 0, fmt.Errorf("parsing schedules file: %w", err)
	}
	if len(file.Schedules) == 0 {
		return nil, 0, fmt.Errorf("schedules file has no schedules")
	}

	store := scheduler.NewMemoryStore()
	for i, entry := range file.Schedules {
		if entry.ID == "" {
			return nil, 0, fmt.Errorf("schedule %d has no id", i)
		}
		if entry.Definition == "" {
			return nil, 0, fmt.Errorf("schedule %s has no definition path", entry.ID)
		}
		next, err := scheduler.NextRunUTC(entry.Cron, now)
		if err != nil {
			return nil, 0, fmt.Errorf("schedule %s: %w", entry.ID, err)
		}
		store.Put(scheduler.Schedule{
			ID:         entry.ID,
			Name:       entry.Name,
			Cron:       entry.Cron,
			Definition: entry.Definition,
			Params:     entry.Params,
			Enabled:    !entry.Disabled,
			NextRunAt:  next,
			UpdatedAt:  now,
		})
	}
	return store, len(file.Schedules), nil
}
