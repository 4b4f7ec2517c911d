package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	obserrors "github.com/quantmatrix/taskplane/internal/observability/errors"
	"github.com/quantmatrix/taskplane/internal/observability/metrics"
	"github.com/quantmatrix/taskplane/internal/observability/notify"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
	"github.com/quantmatrix/taskplane/internal/tasks"
)

// AlertNotifier delivers run events to the configured alert sinks.
type AlertNotifier interface {
	Notify(ctx context.Context, hooks model.Hooks, payload notify.TaskEventPayload) error
}

// TaskRunServiceOptions holds the dependencies for a TaskRunService.
type TaskRunServiceOptions struct {
	Registry     *tasks.Registry
	Runs         *data.RunRepo
	Locks        *data.TaskLockRepo
	Status       *data.TaskStatusRepo
	Alerts       AlertNotifier
	Metrics      statsd.Sink
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// TaskRunService executes dispatched task messages through the run
// protocol: single-flight lock, durable JobRun, last-status publish,
// handler invocation, terminal transition, alert fan-out.
type TaskRunService struct {
	registry *tasks.Registry
	runs     *data.RunRepo
	locks    *data.TaskLockRepo
	status   *data.TaskStatusRepo
	alerts   AlertNotifier
	metrics  statsd.Sink
	clock    data.TimeProvider
	logger   *slog.Logger
}

// NewTaskRunService creates a TaskRunService from options.
func NewTaskRunService(opts TaskRunServiceOptions) *TaskRunService {
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRunService{
		registry: opts.Registry,
		runs:     opts.Runs,
		locks:    opts.Locks,
		status:   opts.Status,
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Execute runs one dispatched message to completion and returns its
// outcome. A held single-flight lock skips the run without a JobRun row;
// everything past lock acquisition leaves a durable record.
func (s *TaskRunService) Execute(ctx context.Context, msg *model.TaskMessage) model.RunOutcome {
	meta := msg.Metadata()
	taskName := msg.TaskName()
	logger := s.logger.With(
		slog.String("task", taskName),
		slog.String("task_id", msg.ID))

	reg, lookupErr := s.registry.Lookup(msg.Task)

	inv := tasks.Invocation{
		Task:   msg.Task,
		Args:   msg.Args,
		Kwargs: msg.Kwargs,
		Logger: logger,
	}

	lockKey := s.lockKey(reg, inv, meta, taskName)
	if lockKey != "" {
		ttl := time.Duration(meta.Safety.TimeoutS) * time.Second
		acquired, err := s.locks.Acquire(ctx, lockKey, s.holder(msg), ttl)
		if err != nil {
			logger.ErrorContext(ctx, "lock acquire failed", slog.Any("error", err))
			return model.RunOutcome{Kind: model.OutcomeError, Err: err.Error()}
		}
		if !acquired {
			logger.InfoContext(ctx, "task skipped, lock held", slog.String("lock_key", lockKey))
			return model.OutcomeLocked(lockKey)
		}
		defer func() {
			if _, err := s.locks.Release(ctx, lockKey); err != nil {
				logger.WarnContext(ctx, "lock release failed",
					slog.String("lock_key", lockKey), slog.Any("error", err))
			}
		}()
	}

	run, err := s.runs.Create(ctx, taskName, runParams(msg, meta))
	if err != nil {
		logger.ErrorContext(ctx, "run record create failed", slog.Any("error", err))
		return model.RunOutcome{Kind: model.OutcomeError, Err: err.Error()}
	}
	s.publishStatus(ctx, logger, taskName, model.RunStatusRunning, map[string]any{
		"run_id": run.ID,
	})

	started := s.clock.Now()
	var result tasks.Result
	if lookupErr != nil {
		err = lookupErr
	} else {
		// The task body runs under a deadline matching its safety timeout,
		// so it cannot outlive the single-flight lock TTL.
		runCtx := ctx
		if timeout := time.Duration(meta.Safety.TimeoutS) * time.Second; timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		result, err = s.invoke(runCtx, logger, reg.Handler, inv)
	}
	duration := s.clock.Now().Sub(started)

	if err != nil {
		s.finishFailure(ctx, logger, run, meta, result.Counters, duration, err)
		return model.OutcomeErr(run.ID, err.Error())
	}
	s.finishSuccess(ctx, logger, run, meta, result.Counters, duration)
	return model.OutcomeOk(run.ID, result.Counters)
}

// invoke calls the handler with panic recovery. A panicking task fails its
// run instead of killing the worker.
func (s *TaskRunService) invoke(ctx context.Context, logger *slog.Logger, handler tasks.Handler, inv tasks.Invocation) (result tasks.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.ErrorContext(ctx, "task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(stack)))
			// The stack travels into the persisted run error so a panic is
			// diagnosable from run history alone.
			err = fmt.Errorf("task panic: %v\n%s", r, stack)
		}
	}()
	return handler(ctx, inv)
}

func (s *TaskRunService) finishSuccess(ctx context.Context, logger *slog.Logger, run *model.JobRun, meta model.ScheduleMetadata, counters map[string]float64, duration time.Duration) {
	if err := s.runs.Finish(ctx, run.ID, model.RunStatusOK, counters, nil); err != nil {
		logger.ErrorContext(ctx, "run finish failed", slog.Any("error", err))
	}
	s.publishStatus(ctx, logger, run.TaskName, model.RunStatusOK, map[string]any{
		"run_id":     run.ID,
		"duration_s": duration.Seconds(),
	})
	metrics.EmitTaskRun(s.metrics, metrics.TaskRunMetric{
		Task:     run.TaskName,
		Result:   metrics.ResultSuccess,
		Duration: duration,
	})

	event := notify.EventSuccess
	if threshold := meta.SlowThreshold(); threshold > 0 && duration > threshold {
		event = notify.EventSlow
	}
	s.notify(ctx, logger, meta, notify.TaskEventPayload{
		Task:       run.TaskName,
		RunID:      strconv.FormatInt(run.ID, 10),
		Event:      event,
		Duration:   duration,
		Counters:   counters,
		OccurredAt: s.clock.Now().UTC(),
	})
	logger.InfoContext(ctx, "task completed",
		slog.Int64("run_id", run.ID),
		slog.Duration("duration", duration))
}

func (s *TaskRunService) finishFailure(ctx context.Context, logger *slog.Logger, run *model.JobRun, meta model.ScheduleMetadata, counters map[string]float64, duration time.Duration, taskErr error) {
	errText := taskErr.Error()
	if err := s.runs.Finish(ctx, run.ID, model.RunStatusError, counters, &errText); err != nil {
		logger.ErrorContext(ctx, "run finish failed", slog.Any("error", err))
	}
	s.publishStatus(ctx, logger, run.TaskName, model.RunStatusError, map[string]any{
		"run_id": run.ID,
		"error":  errText,
	})
	metrics.EmitTaskRun(s.metrics, metrics.TaskRunMetric{
		Task:     run.TaskName,
		Result:   metrics.ResultError,
		Duration: duration,
		Err:      taskErr,
	})
	s.notify(ctx, logger, meta, notify.TaskEventPayload{
		Task:       run.TaskName,
		RunID:      strconv.FormatInt(run.ID, 10),
		Event:      notify.EventFailure,
		Error:      errText,
		ErrorClass: obserrors.Classify(taskErr),
		Duration:   duration,
		Counters:   counters,
		OccurredAt: s.clock.Now().UTC(),
	})
	logger.ErrorContext(ctx, "task failed",
		slog.Int64("run_id", run.ID),
		slog.Duration("duration", duration),
		slog.String("error", errText))
}

// publishStatus writes the last-status blob with one retry. Status is an
// observability surface; failures are logged and swallowed so they never
// affect the run outcome.
func (s *TaskRunService) publishStatus(ctx context.Context, logger *slog.Logger, taskName string, status model.RunStatus, payload map[string]any) {
	if s.status == nil {
		return
	}
	st := model.TaskStatus{
		Task:    taskName,
		Status:  status,
		TS:      s.clock.Now().UTC(),
		Payload: payload,
	}
	err := s.status.Publish(ctx, st)
	if err != nil {
		err = s.status.Publish(ctx, st)
	}
	if err != nil {
		logger.WarnContext(ctx, "status publish failed",
			slog.String("status", string(status)), slog.Any("error", err))
	}
}

func (s *TaskRunService) notify(ctx context.Context, logger *slog.Logger, meta model.ScheduleMetadata, payload notify.TaskEventPayload) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, meta.Hooks, payload); err != nil {
		logger.WarnContext(ctx, "alert delivery incomplete",
			slog.String("event", payload.Event), slog.Any("error", err))
	}
}

// lockKey picks the single-flight key: the registration's own key function
// wins, then the schedule's singleflight safety setting.
func (s *TaskRunService) lockKey(reg tasks.Registration, inv tasks.Invocation, meta model.ScheduleMetadata, taskName string) string {
	if reg.LockKey != nil {
		return reg.LockKey(inv)
	}
	if meta.Safety.Singleflight {
		return data.LockKeyForTask(taskName)
	}
	return ""
}

func (s *TaskRunService) holder(msg *model.TaskMessage) string {
	if msg.ID != "" {
		return msg.ID
	}
	return uuid.NewString()
}

// runParams assembles the JobRun params column: the task kwargs plus the
// schedule metadata snapshot the reaper reads timeouts from.
func runParams(msg *model.TaskMessage, meta model.ScheduleMetadata) map[string]any {
	params := make(map[string]any, len(msg.Kwargs)+1)
	for k, v := range msg.Kwargs {
		params[k] = v
	}
	params["schedule_metadata"] = meta
	return params
}
