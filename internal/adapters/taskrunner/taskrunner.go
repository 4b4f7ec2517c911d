// Package taskrunner provides the worker-pool adapter that drains the
// dispatch queues and executes task messages.
package taskrunner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	"github.com/quantmatrix/taskplane/internal/service"
)

// DefaultPopTimeout bounds each blocking pop so workers notice shutdown.
const DefaultPopTimeout = 5 * time.Second

// RunnerOptions configures the task runner adapter.
type RunnerOptions struct {
	Queue *data.DispatchQueueRepo
	Runs  *service.TaskRunService
	// Queues in priority order; the first non-empty queue is served first.
	Queues []string
	// Concurrency is the number of worker goroutines; defaults to 1.
	Concurrency int
	PopTimeout  time.Duration
	Logger      *slog.Logger
}

// Runner pulls task messages from the dispatch queues with a pool of
// workers and executes them through the run protocol.
type Runner struct {
	queue      *data.DispatchQueueRepo
	runs       *service.TaskRunService
	queues     []string
	workers    int
	popTimeout time.Duration
	logger     *slog.Logger
}

// NewRunner creates a task runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("dispatch queue is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("task run service is required")
	}
	queues := opts.Queues
	if len(queues) == 0 {
		queues = []string{data.DefaultQueue}
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	popTimeout := opts.PopTimeout
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:      opts.Queue,
		runs:       opts.Runs,
		queues:     queues,
		workers:    workers,
		popTimeout: popTimeout,
		logger:     logger.With("component", "task_runner"),
	}, nil
}

// Run starts the worker pool and processes messages until the context is
// cancelled. The first broker failure cancels all workers. Returns nil on
// graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting task runner",
		"queues", r.queues, "workers", r.workers)

	g, ctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			return r.workerLoop(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		r.logger.InfoContext(ctx, "task runner stopping")
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := r.queue.Pop(ctx, r.queues, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, model.ErrMalformedMessage) {
				r.logger.WarnContext(ctx, "dropping malformed message", "error", err)
				continue
			}
			return err
		}
		if msg == nil {
			continue // pop timed out, nothing queued
		}

		outcome := r.runs.Execute(ctx, msg)
		r.logger.DebugContext(ctx, "message processed",
			"task", msg.TaskName(),
			"task_id", msg.ID,
			"outcome", string(outcome.Kind))
	}
}
