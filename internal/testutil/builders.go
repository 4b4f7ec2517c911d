package testutil

import (
	"time"

	"github.com/quantmatrix/taskplane/internal/domain/model"
)

// ScheduleBuilder constructs ScheduleEntry values for tests with sensible
// defaults and chainable overrides.
type ScheduleBuilder struct {
	entry model.ScheduleEntry
}

// NewSchedule creates a builder for a named schedule.
func NewSchedule(name string) *ScheduleBuilder {
	return &ScheduleBuilder{entry: model.ScheduleEntry{
		Name:     name,
		Task:     "monitor.health",
		Cron:     "0 * * * *",
		Timezone: "UTC",
		Enabled:  true,
	}}
}

// Task sets the task path.
func (b *ScheduleBuilder) Task(task string) *ScheduleBuilder {
	b.entry.Task = task
	return b
}

// Cron sets the cron expression.
func (b *ScheduleBuilder) Cron(cron string) *ScheduleBuilder {
	b.entry.Cron = cron
	return b
}

// Timezone sets the IANA zone.
func (b *ScheduleBuilder) Timezone(tz string) *ScheduleBuilder {
	b.entry.Timezone = tz
	return b
}

// Kwargs sets the kwargs mapping.
func (b *ScheduleBuilder) Kwargs(kwargs map[string]any) *ScheduleBuilder {
	b.entry.Kwargs = kwargs
	return b
}

// Build returns the entry.
func (b *ScheduleBuilder) Build() model.ScheduleEntry {
	return b.entry
}

// MetadataBuilder constructs ScheduleMetadata values for tests.
type MetadataBuilder struct {
	meta model.ScheduleMetadata
}

// NewMetadata creates a builder seeded with defaults.
func NewMetadata() *MetadataBuilder {
	return &MetadataBuilder{meta: model.DefaultMetadata()}
}

// Queue sets the routing queue.
func (b *MetadataBuilder) Queue(queue string) *MetadataBuilder {
	b.meta.Queue = queue
	return b
}

// Hooks sets the alert hooks.
func (b *MetadataBuilder) Hooks(hooks model.Hooks) *MetadataBuilder {
	b.meta.Hooks = hooks
	return b
}

// Safety sets the safety guards.
func (b *MetadataBuilder) Safety(safety model.Safety) *MetadataBuilder {
	b.meta.Safety = safety
	return b
}

// Dependencies sets the dependency list.
func (b *MetadataBuilder) Dependencies(deps ...string) *MetadataBuilder {
	b.meta.Dependencies = deps
	return b
}

// Windows sets the maintenance windows.
func (b *MetadataBuilder) Windows(windows ...model.MaintenanceWindow) *MetadataBuilder {
	b.meta.MaintenanceWindows = windows
	return b
}

// Audited stamps the audit fields with the given actor and time.
func (b *MetadataBuilder) Audited(by string, at time.Time) *MetadataBuilder {
	b.meta.Audit = model.Audit{CreatedAt: at, CreatedBy: by, UpdatedAt: at, UpdatedBy: by}
	return b
}

// Build returns the metadata.
func (b *MetadataBuilder) Build() model.ScheduleMetadata {
	return b.meta
}
