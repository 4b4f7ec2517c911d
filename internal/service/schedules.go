package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantmatrix/taskplane/internal/catalog"
	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	apperrors "github.com/quantmatrix/taskplane/internal/errors"
	"github.com/quantmatrix/taskplane/internal/planner"
)

// Schedule lifecycle status labels.
const (
	ScheduleStatusActive = "active"
	ScheduleStatusPaused = "paused"
)

// ScheduleServiceOptions holds the dependencies for a ScheduleService.
type ScheduleServiceOptions struct {
	Registry     *data.ScheduleRegistryRepo
	Metadata     *data.ScheduleMetadataRepo
	Runs         *data.RunRepo
	Queue        *data.DispatchQueueRepo
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ScheduleService implements the admin operations on the schedule registry.
type ScheduleService struct {
	registry *data.ScheduleRegistryRepo
	metadata *data.ScheduleMetadataRepo
	runs     *data.RunRepo
	queue    *data.DispatchQueueRepo
	clock    data.TimeProvider
	logger   *slog.Logger
}

// NewScheduleService creates a ScheduleService from options.
func NewScheduleService(opts ScheduleServiceOptions) *ScheduleService {
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{
		registry: opts.Registry,
		metadata: opts.Metadata,
		runs:     opts.Runs,
		queue:    opts.Queue,
		clock:    clock,
		logger:   logger,
	}
}

// CreateScheduleRequest carries a new schedule definition.
type CreateScheduleRequest struct {
	Name     string                  `json:"name"`
	Task     string                  `json:"task"`
	Cron     string                  `json:"cron"`
	Timezone string                  `json:"timezone"`
	Args     []any                   `json:"args,omitempty"`
	Kwargs   map[string]any          `json:"kwargs,omitempty"`
	Metadata *model.ScheduleMetadata `json:"metadata,omitempty"`
}

// Create validates and stores a new schedule with its metadata.
// Names are unique across active and paused entries.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest, actor string) (*model.ScheduleEntry, error) {
	entry := model.ScheduleEntry{
		Name:     req.Name,
		Task:     req.Task,
		Cron:     req.Cron,
		Timezone: req.Timezone,
		Args:     req.Args,
		Kwargs:   req.Kwargs,
		Enabled:  true,
	}
	entry.Normalize()
	if err := s.validateEntry(&entry); err != nil {
		return nil, err
	}

	if _, err := s.registry.Get(ctx, entry.Name); err == nil {
		return nil, apperrors.Conflictf("schedule %q already exists", entry.Name)
	} else if !errors.Is(err, data.ErrScheduleNotFound) {
		return nil, err
	}
	if _, err := s.registry.GetPaused(ctx, entry.Name); err == nil {
		return nil, apperrors.Conflictf("schedule %q exists in paused state", entry.Name)
	} else if !errors.Is(err, data.ErrPausedNotFound) {
		return nil, err
	}

	meta := model.DefaultMetadata()
	if req.Metadata != nil {
		meta = *req.Metadata
	}
	if err := meta.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	now := s.clock.Now().UTC()
	meta.Audit = model.Audit{CreatedAt: now, CreatedBy: actor, UpdatedAt: now, UpdatedBy: actor}

	if err := s.registry.Put(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.metadata.Save(ctx, entry.Name, meta); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule created",
		slog.String("name", entry.Name), slog.String("actor", actor))
	return &entry, nil
}

// UpdateScheduleRequest carries an update to an existing schedule. Cron is
// required; absent fields keep their stored values.
type UpdateScheduleRequest struct {
	Cron     string               `json:"cron"`
	Timezone *string              `json:"timezone,omitempty"`
	Args     []any                `json:"args,omitempty"`
	Kwargs   map[string]any       `json:"kwargs,omitempty"`
	Metadata *model.MetadataPatch `json:"metadata,omitempty"`
}

// Update replaces a schedule in place: the entry is deleted and recreated
// under the same name, the metadata patch is merged, update-audit stamped.
func (s *ScheduleService) Update(ctx context.Context, name string, req UpdateScheduleRequest, actor string) (*model.ScheduleEntry, error) {
	if req.Cron == "" {
		return nil, apperrors.ValidationField("cron", "cron is required on update")
	}

	existing, err := s.registry.Get(ctx, name)
	if err != nil {
		if errors.Is(err, data.ErrScheduleNotFound) {
			return nil, apperrors.NotFoundf("schedule %q not found", name)
		}
		return nil, err
	}

	entry := *existing
	entry.Cron = req.Cron
	if req.Timezone != nil {
		entry.Timezone = *req.Timezone
	}
	if req.Args != nil {
		entry.Args = req.Args
	}
	if req.Kwargs != nil {
		entry.Kwargs = req.Kwargs
	}
	entry.Normalize()
	if err := s.validateEntry(&entry); err != nil {
		return nil, err
	}

	meta := s.loadOrDefaultMetadata(ctx, name)
	if req.Metadata != nil {
		meta = req.Metadata.Apply(meta)
		if err := meta.Validate(); err != nil {
			return nil, apperrors.Validation(err.Error())
		}
	}
	now := s.clock.Now().UTC()
	meta.Audit.UpdatedAt = now
	meta.Audit.UpdatedBy = actor
	if meta.Audit.CreatedAt.IsZero() {
		meta.Audit.CreatedAt = now
		meta.Audit.CreatedBy = actor
	}

	if _, err := s.registry.Delete(ctx, name); err != nil {
		return nil, err
	}
	if err := s.registry.Put(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.metadata.Save(ctx, name, meta); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule updated",
		slog.String("name", name), slog.String("actor", actor))
	return &entry, nil
}

// Delete removes a schedule: active entry, paused snapshot, and metadata.
// Reports whether anything existed under the name.
func (s *ScheduleService) Delete(ctx context.Context, name string) (bool, error) {
	activeGone, err := s.registry.Delete(ctx, name)
	if err != nil {
		return false, err
	}
	pausedGone, err := s.registry.DeletePaused(ctx, name)
	if err != nil {
		return false, err
	}
	if _, err := s.metadata.Delete(ctx, name); err != nil {
		return false, err
	}
	deleted := activeGone || pausedGone
	if deleted {
		s.logger.InfoContext(ctx, "schedule deleted", slog.String("name", name))
	}
	return deleted, nil
}

// Pause snapshots an active schedule with its metadata to the paused side,
// then removes it from the active registry.
func (s *ScheduleService) Pause(ctx context.Context, name, actor string) error {
	entry, err := s.registry.Get(ctx, name)
	if err != nil {
		if errors.Is(err, data.ErrScheduleNotFound) {
			return apperrors.NotFoundf("schedule %q not found", name)
		}
		return err
	}

	payload := model.PausedPayload{
		Entry:    *entry,
		PausedAt: s.clock.Now().UTC(),
		PausedBy: actor,
	}
	if meta, err := s.metadata.Load(ctx, name); err == nil {
		payload.Metadata = meta
	} else if !errors.Is(err, data.ErrMetadataNotFound) {
		return err
	}

	// Snapshot lands before the active entry disappears; a crash between
	// the two leaves the schedule paused, never lost.
	if err := s.registry.PutPaused(ctx, name, payload); err != nil {
		return err
	}
	if _, err := s.registry.Delete(ctx, name); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "schedule paused",
		slog.String("name", name), slog.String("actor", actor))
	return nil
}

// ResumeScheduleRequest optionally overrides cron/timezone on resume.
type ResumeScheduleRequest struct {
	Cron     string
	Timezone string
}

// Resume reconstitutes a paused schedule. The active entry is written
// before the snapshot is deleted, so a crash can duplicate but never drop.
func (s *ScheduleService) Resume(ctx context.Context, name string, req ResumeScheduleRequest, actor string) error {
	payload, err := s.registry.GetPaused(ctx, name)
	if err != nil {
		if errors.Is(err, data.ErrPausedNotFound) {
			return apperrors.NotFoundf("no paused schedule %q", name)
		}
		return err
	}

	entry := payload.Entry
	overridden := req.Cron != "" || req.Timezone != ""
	if req.Cron != "" {
		entry.Cron = req.Cron
	}
	if req.Timezone != "" {
		entry.Timezone = req.Timezone
	}
	entry.Normalize()
	if err := s.validateEntry(&entry); err != nil {
		return err
	}

	if err := s.registry.Put(ctx, entry); err != nil {
		return err
	}
	if payload.Metadata != nil {
		// Resume reconstitutes the snapshot as-is; only a caller override
		// of cron or timezone counts as an edit worth an audit stamp.
		meta := *payload.Metadata
		if overridden {
			meta.Audit.UpdatedAt = s.clock.Now().UTC()
			meta.Audit.UpdatedBy = actor
		}
		if err := s.metadata.Save(ctx, name, meta); err != nil {
			return err
		}
	}
	if _, err := s.registry.DeletePaused(ctx, name); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "schedule resumed",
		slog.String("name", name), slog.String("actor", actor))
	return nil
}

// ScheduleView is one merged listing item: the entry, its lifecycle
// status, metadata, and most-recent run summary.
type ScheduleView struct {
	Entry    model.ScheduleEntry     `json:"entry"`
	Status   string                  `json:"status"`
	Metadata *model.ScheduleMetadata `json:"metadata,omitempty"`
	LastRun  *model.JobRun           `json:"last_run,omitempty"`
}

// List merges active and paused schedules, sorted by name within each
// status group (active first), each annotated with its latest run.
func (s *ScheduleService) List(ctx context.Context) ([]ScheduleView, error) {
	active, err := s.registry.Scan(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := s.registry.ScanPaused(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ScheduleView, 0, len(active)+len(paused))
	taskNames := make([]string, 0, len(active)+len(paused))
	for _, entry := range active {
		view := ScheduleView{Entry: entry, Status: ScheduleStatusActive}
		if meta, err := s.metadata.Load(ctx, entry.Name); err == nil {
			view.Metadata = meta
		} else if !errors.Is(err, data.ErrMetadataNotFound) {
			return nil, err
		}
		views = append(views, view)
		taskNames = append(taskNames, entry.TaskName())
	}
	for _, payload := range paused {
		views = append(views, ScheduleView{
			Entry:    payload.Entry,
			Status:   ScheduleStatusPaused,
			Metadata: payload.Metadata,
		})
		taskNames = append(taskNames, payload.Entry.TaskName())
	}

	latest, err := s.runs.LatestForTasks(ctx, taskNames)
	if err != nil {
		return nil, err
	}
	for i := range views {
		views[i].LastRun = latest[views[i].Entry.TaskName()]
	}
	return views, nil
}

// ExportedSchedule is the portable form of one schedule.
type ExportedSchedule struct {
	Name     string                  `json:"name"`
	Task     string                  `json:"task"`
	Cron     string                  `json:"cron"`
	Timezone string                  `json:"timezone"`
	Args     []any                   `json:"args,omitempty"`
	Kwargs   map[string]any          `json:"kwargs,omitempty"`
	Metadata *model.ScheduleMetadata `json:"metadata,omitempty"`
}

// Export returns all active schedules with their metadata.
func (s *ScheduleService) Export(ctx context.Context) ([]ExportedSchedule, error) {
	entries, err := s.registry.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ExportedSchedule, 0, len(entries))
	for _, entry := range entries {
		exported := ExportedSchedule{
			Name:     entry.Name,
			Task:     entry.Task,
			Cron:     entry.Cron,
			Timezone: entry.Timezone,
			Args:     entry.Args,
			Kwargs:   entry.Kwargs,
		}
		if meta, err := s.metadata.Load(ctx, entry.Name); err == nil {
			exported.Metadata = meta
		} else if !errors.Is(err, data.ErrMetadataNotFound) {
			return nil, err
		}
		out = append(out, exported)
	}
	return out, nil
}

// Import bulk-upserts schedules. Individual failures are logged and
// counted, never abort the batch.
func (s *ScheduleService) Import(ctx context.Context, schedules []ExportedSchedule, actor string) (created, failed int, err error) {
	now := s.clock.Now().UTC()
	for _, item := range schedules {
		entry := model.ScheduleEntry{
			Name:     item.Name,
			Task:     item.Task,
			Cron:     item.Cron,
			Timezone: item.Timezone,
			Args:     item.Args,
			Kwargs:   item.Kwargs,
			Enabled:  true,
		}
		entry.Normalize()
		if err := s.validateEntry(&entry); err != nil {
			s.logger.WarnContext(ctx, "import: invalid schedule skipped",
				slog.String("name", item.Name), slog.Any("error", err))
			failed++
			continue
		}

		meta := s.loadOrDefaultMetadata(ctx, entry.Name)
		if item.Metadata != nil {
			meta = *item.Metadata
		}
		meta.Audit.UpdatedAt = now
		meta.Audit.UpdatedBy = actor
		if meta.Audit.CreatedAt.IsZero() {
			meta.Audit.CreatedAt = now
			meta.Audit.CreatedBy = actor
		}

		if err := s.registry.Put(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "import: registry write failed",
				slog.String("name", entry.Name), slog.Any("error", err))
			failed++
			continue
		}
		if err := s.metadata.Save(ctx, entry.Name, meta); err != nil {
			s.logger.WarnContext(ctx, "import: metadata write failed",
				slog.String("name", entry.Name), slog.Any("error", err))
			failed++
			continue
		}
		created++
	}
	s.logger.InfoContext(ctx, "schedules imported",
		slog.Int("created", created), slog.Int("failed", failed), slog.String("actor", actor))
	return created, failed, nil
}

// RunNow dispatches a one-off invocation of a task, bypassing the cron
// gates. Returns the opaque task id assigned to the message.
func (s *ScheduleService) RunNow(ctx context.Context, task string, args []any, kwargs map[string]any) (string, error) {
	if task == "" {
		return "", apperrors.ValidationField("task", "task is required")
	}

	msg := &model.TaskMessage{
		ID:     uuid.NewString(),
		Task:   task,
		Args:   args,
		Kwargs: kwargs,
	}
	msg.Options.Queue = data.DefaultQueue
	if err := s.queue.Push(ctx, msg.Options.Queue, msg); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "one-off task dispatched",
		slog.String("task", task), slog.String("task_id", msg.ID))
	return msg.ID, nil
}

// Preview returns the next n UTC fire instants for a cron expression.
func (s *ScheduleService) Preview(cron, timezone string, count int) ([]time.Time, error) {
	if count <= 0 {
		count = 5
	}
	if count > 50 {
		count = 50
	}
	fires, err := planner.Next(cron, timezone, s.clock.Now(), count)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	return fires, nil
}

// CatalogItemView is one catalog item annotated with its latest run.
type CatalogItemView struct {
	Name    string        `json:"name"`
	Task    string        `json:"task"`
	Cron    string        `json:"cron"`
	Queue   string        `json:"queue"`
	LastRun *model.JobRun `json:"last_run,omitempty"`
}

// Catalog returns the factory catalog grouped by logical group, each item
// annotated with its most-recent run summary.
func (s *ScheduleService) Catalog(ctx context.Context) (map[string][]CatalogItemView, error) {
	items := catalog.Items()
	taskNames := make([]string, 0, len(items))
	for _, item := range items {
		taskNames = append(taskNames, model.TaskShortName(item.Task))
	}
	latest, err := s.runs.LatestForTasks(ctx, taskNames)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]CatalogItemView, len(catalog.GroupOrder))
	for group, groupItems := range catalog.Groups() {
		views := make([]CatalogItemView, 0, len(groupItems))
		for _, item := range groupItems {
			views = append(views, CatalogItemView{
				Name:    item.Name,
				Task:    item.Task,
				Cron:    item.Cron,
				Queue:   item.Queue,
				LastRun: latest[model.TaskShortName(item.Task)],
			})
		}
		out[group] = views
	}
	return out, nil
}

// Runs lists run history matching the query.
func (s *ScheduleService) Runs(ctx context.Context, q model.RunQuery) ([]*model.JobRun, error) {
	return s.runs.List(ctx, q)
}

func (s *ScheduleService) validateEntry(entry *model.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}
	if err := planner.Validate(entry.Cron, entry.Timezone); err != nil {
		return apperrors.Validation(fmt.Sprintf("cron %q: %v", entry.Cron, err))
	}
	return nil
}

func (s *ScheduleService) loadOrDefaultMetadata(ctx context.Context, name string) model.ScheduleMetadata {
	if meta, err := s.metadata.Load(ctx, name); err == nil {
		return *meta
	}
	return model.DefaultMetadata()
}
