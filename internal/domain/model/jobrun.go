package model

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a JobRun.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
)

// Valid reports whether s is a known status value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusOK, RunStatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusOK || s == RunStatusError
}

// JobRun is the durable record of a single task invocation. Rows are written
// twice: an insert with status running, then exactly one terminal update.
type JobRun struct {
	ID         int64              `json:"id"`
	TaskName   string             `json:"task_name"`
	Params     map[string]any     `json:"params,omitempty"`
	Status     RunStatus          `json:"status"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Error      *string            `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Duration returns the run's elapsed time, or zero while still running.
func (r *JobRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CheckTerminality validates the status/finished_at invariant.
func (r *JobRun) CheckTerminality() error {
	if r.Status == RunStatusRunning && r.FinishedAt != nil {
		return fmt.Errorf("run %d: running but finished_at set", r.ID)
	}
	if r.Status.Terminal() {
		if r.FinishedAt == nil {
			return fmt.Errorf("run %d: terminal status %s without finished_at", r.ID, r.Status)
		}
		if r.FinishedAt.Before(r.StartedAt) {
			return fmt.Errorf("run %d: finished_at before started_at", r.ID)
		}
	}
	return nil
}

// RunQuery filters the run history listing.
type RunQuery struct {
	TaskName string
	Status   RunStatus
	Limit    int
	Offset   int
}

// Normalize applies listing defaults and caps.
func (q *RunQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// TaskStatus is the last-status blob published per task name on every
// run transition. Single writer per task, many readers.
type TaskStatus struct {
	Task    string         `json:"task"`
	Status  RunStatus      `json:"status"`
	TS      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}
