package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/config"
	"github.com/quantmatrix/taskplane/internal/adapters/reaper"
	schedrunner "github.com/quantmatrix/taskplane/internal/adapters/scheduler"
	"github.com/quantmatrix/taskplane/internal/adapters/taskrunner"
	"github.com/quantmatrix/taskplane/internal/catalog"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
	"github.com/quantmatrix/taskplane/internal/service"
	"github.com/quantmatrix/taskplane/internal/tasks"
)

// SchedulerRunnerConfig contains configuration for the scheduler loop.
type SchedulerRunnerConfig struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Interval    time.Duration
	SeedCatalog bool
	Metrics     statsd.Sink
}

// RunScheduler seeds the catalog when configured and starts the tick loop.
func RunScheduler(ctx context.Context, cfg SchedulerRunnerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repos := buildRepositories(cfg.DB, cfg.RedisClient, logger)

	if cfg.SeedCatalog {
		seeder := catalog.NewSeeder(catalog.SeederOptions{
			Registry: repos.Registry,
			Metadata: repos.Metadata,
			Logger:   logger,
		})
		if count, err := seeder.SeedIfEmpty(ctx); err != nil {
			// Seeding failure is not fatal; the registry may simply be
			// populated later through the admin API.
			logger.ErrorContext(ctx, "catalog seed failed", "error", err)
		} else if count > 0 {
			logger.InfoContext(ctx, "catalog seeded", "schedules", count)
		}
	}

	schedulerSvc := service.NewSchedulerService(service.SchedulerServiceOptions{
		Registry:  repos.Registry,
		Metadata:  repos.Metadata,
		Queue:     repos.Queue,
		Locks:     repos.Locks,
		Runs:      repos.Runs,
		Preflight: buildPreflight(repos, logger),
		Logger:    logger,
	})

	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		Scheduler: schedulerSvc,
		Interval:  cfg.Interval,
		Logger:    logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner.Run(ctx)
}

// TaskRunnerConfig contains configuration for the task execution worker pool.
type TaskRunnerConfig struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Queues      []string
	Concurrency int
	PopTimeout  time.Duration
	Alerts      *service.AlertRouter
	Metrics     statsd.Sink
}

// RunTaskRunner starts the worker pool that drains the dispatch queues.
func RunTaskRunner(ctx context.Context, cfg TaskRunnerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repos := buildRepositories(cfg.DB, cfg.RedisClient, logger)

	registry := tasks.NewRegistry()
	if err := tasks.RegisterBuiltins(registry, tasks.BuiltinConfig{
		Registry:   repos.Registry,
		Runs:       repos.Runs,
		Queues:     repos.Queue,
		Redis:      cfg.RedisClient,
		QueueNames: cfg.Queues,
		Logger:     logger,
	}); err != nil {
		return fmt.Errorf("register builtin tasks: %w", err)
	}

	runOpts := service.TaskRunServiceOptions{
		Registry: registry,
		Runs:     repos.Runs,
		Locks:    repos.Locks,
		Status:   repos.Status,
		Metrics:  cfg.Metrics,
		Logger:   logger,
	}
	if cfg.Alerts != nil {
		runOpts.Alerts = cfg.Alerts
	}
	runService := service.NewTaskRunService(runOpts)

	runner, err := taskrunner.NewRunner(taskrunner.RunnerOptions{
		Queue:       repos.Queue,
		Runs:        runService,
		Queues:      cfg.Queues,
		Concurrency: cfg.Concurrency,
		PopTimeout:  cfg.PopTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create task runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperRunnerConfig contains configuration for the stale-run reaper.
type ReaperRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper sweep loop.
func RunReaper(ctx context.Context, cfg ReaperRunnerConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:             cfg.DB,
		Interval:       cfg.Config.Interval,
		DefaultTimeout: cfg.Config.DefaultTimeout,
		Grace:          cfg.Config.Grace,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
