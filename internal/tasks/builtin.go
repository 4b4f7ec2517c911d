package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/data"
)

const sessionKeyPattern = "session:*"

// Executor runs the data-plane tasks: market data pulls, portfolio syncs,
// signal scans. The control plane ships LogExecutor; deployments replace it
// with their pipeline integrations.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// LogExecutor acknowledges data-plane invocations without doing work.
type LogExecutor struct {
	Logger *slog.Logger
}

// Execute logs the invocation and reports a single executed counter.
func (e *LogExecutor) Execute(ctx context.Context, inv Invocation) (Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "no executor wired for task, acknowledging only",
		slog.String("task", inv.Task))
	return Result{Counters: map[string]float64{"executed": 1}}, nil
}

// BuiltinConfig wires the builtin handlers to their stores.
type BuiltinConfig struct {
	Registry   *data.ScheduleRegistryRepo
	Runs       *data.RunRepo
	Queues     *data.DispatchQueueRepo
	Redis      redis.UniversalClient
	QueueNames []string
	Executor   Executor
	Logger     *slog.Logger
}

// RegisterBuiltins registers a handler for every factory catalog task:
// monitoring and maintenance run against the control plane's own stores,
// the data-plane groups route through the configured Executor.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Executor == nil {
		cfg.Executor = &LogExecutor{Logger: cfg.Logger}
	}
	if len(cfg.QueueNames) == 0 {
		cfg.QueueNames = []string{"celery"}
	}
	b := &builtins{cfg: cfg}

	regs := map[string]Registration{
		"quantmatrix.tasks.monitoring.health":            {Handler: b.health},
		"quantmatrix.tasks.monitoring.queue_depth_check": {Handler: b.queueDepthCheck},
		"quantmatrix.tasks.maintenance.jobrun_prune": {
			Handler: b.jobrunPrune,
			LockKey: func(Invocation) string { return data.LockKeyForTask("jobrun_prune") },
		},
		"quantmatrix.tasks.maintenance.session_cleanup": {Handler: b.sessionCleanup},
	}
	for _, task := range []string{
		"quantmatrix.tasks.marketdata.eod_prices_refresh",
		"quantmatrix.tasks.marketdata.intraday_snapshot",
		"quantmatrix.tasks.marketdata.fx_rates_refresh",
		"quantmatrix.tasks.portfolio.account_sync",
		"quantmatrix.tasks.portfolio.positions_reconcile",
		"quantmatrix.tasks.portfolio.pnl_report",
		"quantmatrix.tasks.signals.signal_scan",
		"quantmatrix.tasks.signals.morning_briefing",
	} {
		regs[task] = Registration{Handler: cfg.Executor.Execute}
	}

	for task, registration := range regs {
		if err := reg.Register(task, registration); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	cfg BuiltinConfig
}

// health probes the control plane's backing stores.
func (b *builtins) health(ctx context.Context, _ Invocation) (Result, error) {
	counters := map[string]float64{"redis": 0, "postgres": 0}
	var errs []error
	if err := b.cfg.Registry.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	} else {
		counters["redis"] = 1
	}
	if err := b.cfg.Runs.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("postgres: %w", err))
	} else {
		counters["postgres"] = 1
	}
	if len(errs) > 0 {
		return Result{Counters: counters}, errors.Join(errs...)
	}
	return Result{Counters: counters}, nil
}

// queueDepthCheck reports the depth of every consumed dispatch queue.
func (b *builtins) queueDepthCheck(ctx context.Context, _ Invocation) (Result, error) {
	counters := make(map[string]float64, len(b.cfg.QueueNames))
	for _, queue := range b.cfg.QueueNames {
		depth, err := b.cfg.Queues.Len(ctx, queue)
		if err != nil {
			return Result{}, fmt.Errorf("queue %q depth: %w", queue, err)
		}
		counters["depth_"+queue] = float64(depth)
	}
	return Result{Counters: counters}, nil
}

// jobrunPrune deletes terminal runs older than keep_days (default 180).
func (b *builtins) jobrunPrune(ctx context.Context, inv Invocation) (Result, error) {
	keepDays := inv.IntKwarg("keep_days", 180)
	if keepDays < 1 {
		return Result{}, fmt.Errorf("keep_days must be positive, got %d", keepDays)
	}
	removed, err := b.cfg.Runs.Prune(ctx, time.Duration(keepDays)*24*time.Hour)
	if err != nil {
		return Result{}, err
	}
	return Result{Counters: map[string]float64{"removed": float64(removed)}}, nil
}

// sessionCleanup removes session keys left without a TTL. Healthy sessions
// always carry one; persistent session keys are write-path leftovers.
func (b *builtins) sessionCleanup(ctx context.Context, _ Invocation) (Result, error) {
	var scanned, removed float64
	var cursor uint64
	for {
		keys, next, err := b.cfg.Redis.Scan(ctx, cursor, sessionKeyPattern, 100).Result()
		if err != nil {
			return Result{}, fmt.Errorf("session scan: %w", err)
		}
		for _, key := range keys {
			scanned++
			ttl, err := b.cfg.Redis.TTL(ctx, key).Result()
			if err != nil {
				return Result{}, fmt.Errorf("session ttl %q: %w", key, err)
			}
			if ttl == -1 {
				if err := b.cfg.Redis.Del(ctx, key).Err(); err != nil {
					return Result{}, fmt.Errorf("session delete %q: %w", key, err)
				}
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return Result{Counters: map[string]float64{"scanned": scanned, "removed": removed}}, nil
}
