// Package reaper provides the adapter that runs the stale-run reaper loop.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
	"github.com/quantmatrix/taskplane/internal/service"
)

// Runner drives the reaper service until its context is cancelled.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB             *sql.DB
	Interval       time.Duration
	DefaultTimeout time.Duration
	Grace          time.Duration
	Logger         *slog.Logger
	Metrics        statsd.Sink

	// Optional injection for tests.
	Runs *data.RunRepo
}

// NewRunner creates a reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Runs == nil {
		return nil, errors.New("either DB or Runs must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runs := opts.Runs
	if runs == nil {
		runs = data.NewRunRepo(opts.DB, data.RunRepoConfig{Logger: logger})
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Runs:           runs,
		Interval:       opts.Interval,
		DefaultTimeout: opts.DefaultTimeout,
		Grace:          opts.Grace,
		Logger:         logger,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}
	return &Runner{reaper: reaper, logger: logger}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
