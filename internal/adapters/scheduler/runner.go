// Package scheduler provides the adapter that runs the scheduling tick loop.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantmatrix/taskplane/internal/observability/metrics"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
	"github.com/quantmatrix/taskplane/internal/service"
)

// DefaultInterval is how often the registry is rescanned for due fires.
const DefaultInterval = time.Second

// Runner drives the scheduler service on a fixed interval until its
// context is cancelled. Only one runner instance should be live at a time;
// the tick owns an in-memory fire cache.
type Runner struct {
	scheduler *service.SchedulerService
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler *service.SchedulerService
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// NewRunner creates a scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler service is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		scheduler: opts.Scheduler,
		interval:  interval,
		logger:    logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the tick loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			start := time.Now()
			enqueued, err := r.scheduler.Tick(ctx)
			elapsed := time.Since(start)

			r.emitTickMetrics(enqueued, elapsed, err)

			if err != nil {
				// Keep ticking; a failed scan is usually a transient
				// Redis hiccup.
				r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			} else if enqueued > 0 {
				r.logger.InfoContext(ctx, "scheduler tick complete",
					"enqueued", enqueued, "elapsed", elapsed)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(enqueued int, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if enqueued == 0 {
		result = metrics.ResultNoop
	}
	metrics.EmitTick(r.metrics, metrics.TickMetric{
		Result:   result,
		Enqueued: enqueued,
		Duration: elapsed,
		At:       time.Now(),
		Err:      err,
	})
}
