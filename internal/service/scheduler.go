package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	"github.com/quantmatrix/taskplane/internal/planner"
)

// Skip reasons recorded when a due fire is suppressed.
const (
	SkipMaintenance  = "maintenance_window"
	SkipPreflight    = "preflight_failed"
	SkipSingleflight = "singleflight_held"
	SkipDependency   = "dependency_stale"
)

// SchedulerServiceOptions holds the dependencies for a SchedulerService.
type SchedulerServiceOptions struct {
	Registry     *data.ScheduleRegistryRepo
	Metadata     *data.ScheduleMetadataRepo
	Queue        *data.DispatchQueueRepo
	Locks        *data.TaskLockRepo
	Runs         *data.RunRepo
	Preflight    *PreflightService
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// fireState caches the next computed fire instant per schedule. The
// fingerprint invalidates the cache when cron or timezone change.
type fireState struct {
	fingerprint string
	next        time.Time
}

// SchedulerService walks the registry once per tick, decides which
// schedules are due, runs the dispatch gates, and enqueues task messages.
// A single scheduler instance owns the fire-state cache; ticks are never
// concurrent.
type SchedulerService struct {
	registry  *data.ScheduleRegistryRepo
	metadata  *data.ScheduleMetadataRepo
	queue     *data.DispatchQueueRepo
	locks     *data.TaskLockRepo
	runs      *data.RunRepo
	preflight *PreflightService
	clock     data.TimeProvider
	logger    *slog.Logger

	fires map[string]fireState
}

// NewSchedulerService creates a SchedulerService from options.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerService{
		registry:  opts.Registry,
		metadata:  opts.Metadata,
		queue:     opts.Queue,
		locks:     opts.Locks,
		runs:      opts.Runs,
		preflight: opts.Preflight,
		clock:     clock,
		logger:    logger,
		fires:     make(map[string]fireState),
	}
}

// Tick runs one scheduling pass and returns the number of messages
// enqueued. Per-schedule failures are logged and skipped so one broken
// entry never starves the rest; a registry scan failure aborts the tick.
func (s *SchedulerService) Tick(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	entries, err := s.registry.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler tick: %w", err)
	}

	byName := make(map[string]model.ScheduleEntry, len(entries))
	for _, entry := range entries {
		byName[entry.Name] = entry
	}
	s.pruneFireState(byName)

	// Scan returns entries sorted by name, so simultaneous fires dispatch
	// in lexicographic order.
	enqueued := 0
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		prev := s.fires[entry.Name]
		due, ok := s.advance(ctx, entry, now)
		if !ok || !due {
			continue
		}
		dispatched, deferred, err := s.dispatch(ctx, entry, byName, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "dispatch failed",
				slog.String("schedule", entry.Name), slog.Any("error", err))
			continue
		}
		if deferred {
			// A closed preflight gate defers the fire: the pending instant
			// is restored so the next tick retries instead of waiting for
			// the next cron boundary.
			s.fires[entry.Name] = prev
			continue
		}
		if dispatched {
			enqueued++
		}
	}
	return enqueued, nil
}

// advance maintains the fire-state cache for one entry and reports whether
// it is due now. A newly seen or changed entry starts from its next future
// fire, so edits never trigger an immediate catch-up dispatch.
func (s *SchedulerService) advance(ctx context.Context, entry model.ScheduleEntry, now time.Time) (due, ok bool) {
	fp := entry.Cron + "\x00" + entry.Timezone
	st, exists := s.fires[entry.Name]
	if !exists || st.fingerprint != fp {
		next, err := planner.NextAfter(entry.Cron, entry.Timezone, now)
		if err != nil {
			s.logger.WarnContext(ctx, "unschedulable entry",
				slog.String("schedule", entry.Name),
				slog.String("cron", entry.Cron), slog.Any("error", err))
			return false, false
		}
		s.fires[entry.Name] = fireState{fingerprint: fp, next: next}
		return false, true
	}

	if now.Before(st.next) {
		return false, true
	}
	next, err := planner.NextAfter(entry.Cron, entry.Timezone, now)
	if err != nil {
		return false, false
	}
	s.fires[entry.Name] = fireState{fingerprint: fp, next: next}
	return true, true
}

// dispatch runs the gate chain for a due entry and enqueues on success.
// Gate order: maintenance window, preflight, singleflight, dependency
// recency. The first closed gate wins. A fire suppressed by maintenance,
// singleflight or dependency staleness is dropped; a failed preflight
// reports deferred so the caller retries it on the next tick.
func (s *SchedulerService) dispatch(ctx context.Context, entry model.ScheduleEntry, all map[string]model.ScheduleEntry, now time.Time) (dispatched, deferred bool, err error) {
	meta := s.loadOrDefaultMetadata(ctx, entry.Name)

	if meta.InMaintenance(now) {
		s.skip(ctx, entry.Name, SkipMaintenance, nil)
		return false, false, nil
	}

	if len(meta.PreflightChecks) > 0 && s.preflight != nil {
		if preErr := s.preflight.Run(ctx, meta.PreflightChecks); preErr != nil {
			s.skip(ctx, entry.Name, SkipPreflight, preErr)
			return false, true, nil
		}
	}

	if meta.Safety.Singleflight {
		held, lockErr := s.locks.Held(ctx, data.LockKeyForTask(entry.TaskName()))
		if lockErr != nil {
			return false, false, fmt.Errorf("singleflight check: %w", lockErr)
		}
		if held {
			s.skip(ctx, entry.Name, SkipSingleflight, nil)
			return false, false, nil
		}
	}

	if len(meta.Dependencies) > 0 {
		fresh, stale, depErr := s.dependenciesFresh(ctx, entry, meta, all, now)
		if depErr != nil {
			return false, false, depErr
		}
		if !fresh {
			s.skip(ctx, entry.Name, SkipDependency, fmt.Errorf("dependency %q has no recent successful run", stale))
			return false, false, nil
		}
	}

	msg := &model.TaskMessage{
		ID:     uuid.NewString(),
		Task:   entry.Task,
		Args:   entry.Args,
		Kwargs: entry.Kwargs,
	}
	msg.Options.Queue = meta.Queue
	if msg.Options.Queue == "" {
		msg.Options.Queue = data.DefaultQueue
	}
	msg.Options.Priority = meta.Priority
	msg.Options.Headers.ScheduleMetadata = &meta

	if pushErr := s.queue.Push(ctx, msg.Options.Queue, msg); pushErr != nil {
		return false, false, pushErr
	}
	s.logger.InfoContext(ctx, "task enqueued",
		slog.String("schedule", entry.Name),
		slog.String("task", entry.Task),
		slog.String("queue", msg.Options.Queue),
		slog.String("task_id", msg.ID))
	return true, false, nil
}

// dependenciesFresh checks that every named dependency finished a
// successful run inside the recency window. The window defaults to the
// depender's own cron period.
func (s *SchedulerService) dependenciesFresh(ctx context.Context, entry model.ScheduleEntry, meta model.ScheduleMetadata, all map[string]model.ScheduleEntry, now time.Time) (bool, string, error) {
	recency := time.Duration(meta.DependencyRecencyS) * time.Second
	if recency <= 0 {
		period, err := planner.Period(entry.Cron, entry.Timezone, now)
		if err != nil {
			return false, "", fmt.Errorf("dependency window: %w", err)
		}
		recency = period
	}

	for _, dep := range meta.Dependencies {
		// Dependencies name schedules; a name with no registry entry is
		// treated as a bare task name.
		taskName := dep
		if depEntry, ok := all[dep]; ok {
			taskName = depEntry.TaskName()
		}
		latest, err := s.runs.Latest(ctx, taskName)
		if err != nil {
			if errors.Is(err, data.ErrRunNotFound) {
				return false, dep, nil
			}
			return false, "", fmt.Errorf("dependency %q: %w", dep, err)
		}
		if latest.Status != model.RunStatusOK || latest.FinishedAt == nil {
			return false, dep, nil
		}
		if now.Sub(*latest.FinishedAt) > recency {
			return false, dep, nil
		}
	}
	return true, "", nil
}

func (s *SchedulerService) skip(ctx context.Context, name, reason string, err error) {
	attrs := []any{slog.String("schedule", name), slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.logger.InfoContext(ctx, "fire suppressed", attrs...)
}

func (s *SchedulerService) pruneFireState(current map[string]model.ScheduleEntry) {
	for name := range s.fires {
		if _, ok := current[name]; !ok {
			delete(s.fires, name)
		}
	}
}

func (s *SchedulerService) loadOrDefaultMetadata(ctx context.Context, name string) model.ScheduleMetadata {
	meta, err := s.metadata.Load(ctx, name)
	if err != nil {
		if !errors.Is(err, data.ErrMetadataNotFound) {
			s.logger.WarnContext(ctx, "metadata load failed, using defaults",
				slog.String("schedule", name), slog.Any("error", err))
		}
		return model.DefaultMetadata()
	}
	return *meta
}
