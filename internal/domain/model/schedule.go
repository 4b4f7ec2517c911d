// Package model defines the schedule, metadata, and run records used
// throughout the taskplane scheduler.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ScheduleEntry is the schedulable unit stored in the registry.
// A paused entry is absent from the active registry and present in the
// paused side-registry as part of a PausedPayload snapshot.
type ScheduleEntry struct {
	Name     string         `json:"name"`
	Task     string         `json:"task"`
	Cron     string         `json:"cron"`
	Timezone string         `json:"timezone"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
	Enabled  bool           `json:"enabled"`
}

// Validate checks the structural fields of an entry. Cron syntax and zone
// resolution are validated by the planner at create/update time.
func (e *ScheduleEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(e.Task) == "" {
		return errors.New("task is required")
	}
	if strings.TrimSpace(e.Cron) == "" {
		return errors.New("cron is required")
	}
	if len(strings.Fields(e.Cron)) != 5 {
		return fmt.Errorf("cron must have 5 fields, got %d", len(strings.Fields(e.Cron)))
	}
	return nil
}

// Normalize applies defaults that keep stored entries canonical.
func (e *ScheduleEntry) Normalize() {
	e.Name = strings.TrimSpace(e.Name)
	e.Task = strings.TrimSpace(e.Task)
	e.Cron = strings.Join(strings.Fields(e.Cron), " ")
	if strings.TrimSpace(e.Timezone) == "" {
		e.Timezone = "UTC"
	}
}

// TaskName returns the simple task identifier for this entry.
func (e *ScheduleEntry) TaskName() string {
	return TaskShortName(e.Task)
}

// TaskShortName reduces a dotted task path to its final segment.
// "quantmatrix.tasks.monitor.health" -> "health".
func TaskShortName(task string) string {
	if i := strings.LastIndex(task, "."); i >= 0 {
		return task[i+1:]
	}
	return task
}

// PausedPayload is the side-record written when a schedule is paused:
// a complete snapshot of the entry plus its metadata, enabling exact
// reconstitution on resume.
type PausedPayload struct {
	Entry    ScheduleEntry     `json:"entry"`
	Metadata *ScheduleMetadata `json:"metadata,omitempty"`
	PausedAt time.Time         `json:"paused_at"`
	PausedBy string            `json:"paused_by,omitempty"`
}
