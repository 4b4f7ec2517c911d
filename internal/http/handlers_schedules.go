// Package httpx provides the JSON admin API for the taskplane scheduler.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantmatrix/taskplane/internal/service"
)

// ScheduleHandlers provides HTTP handlers for schedule administration.
type ScheduleHandlers struct {
	Svc *service.ScheduleService
	// SchedulerMode is reported on listings so operators can see whether
	// registry edits drive the scheduler ("dynamic") or not ("static").
	SchedulerMode string
	Logger        *slog.Logger
}

func (h *ScheduleHandlers) mode() string {
	if h.SchedulerMode == "" {
		return "dynamic"
	}
	return h.SchedulerMode
}

// actorFrom returns the acting user for audit stamps. Unauthenticated
// deployments (auth disabled) fall back to a fixed identity.
func actorFrom(r *http.Request) string {
	if session := GetSessionFromContext(r.Context()); session != nil && session.Email != "" {
		return session.Email
	}
	return "api"
}

// Create handles POST /api/schedules.
func (h *ScheduleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	entry, err := h.Svc.Create(r.Context(), req, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, entry)
}

// List handles GET /api/schedules. Active entries come first, each
// annotated with lifecycle status, metadata, and the latest run.
func (h *ScheduleHandlers) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.Svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"schedules": views,
		"count":     len(views),
		"mode":      h.mode(),
	})
}

// Update handles PUT /api/schedules/{name}.
func (h *ScheduleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("schedule name is required"),
		})
		return
	}

	var req service.UpdateScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	entry, err := h.Svc.Update(r.Context(), name, req, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, entry)
}

// Delete handles DELETE /api/schedules/{name}. Removes the active entry,
// any paused snapshot, and the metadata document.
func (h *ScheduleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	deleted, err := h.Svc.Delete(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !deleted {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "not_found",
			Err:     errors.New("schedule " + name + " not found"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// Pause handles POST /api/schedules/{name}/pause.
func (h *ScheduleHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.Svc.Pause(r.Context(), name, actorFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"name":   name,
		"status": service.ScheduleStatusPaused,
	})
}

// resumeRequest optionally overrides cron/timezone on resume.
type resumeRequest struct {
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Resume handles POST /api/schedules/{name}/resume. The body is optional;
// when present it may override the snapshot's cron and timezone.
func (h *ScheduleHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req resumeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !DecodeJSON(w, r, &req) {
			return
		}
	}

	err := h.Svc.Resume(r.Context(), name, service.ResumeScheduleRequest{
		Cron:     req.Cron,
		Timezone: req.Timezone,
	}, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"name":   name,
		"status": service.ScheduleStatusActive,
	})
}

// runNowRequest names a task for a one-off dispatch.
type runNowRequest struct {
	Task   string         `json:"task"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// RunNow handles POST /api/schedules/run-now: dispatch a one-off task
// invocation, bypassing the cron gates.
func (h *ScheduleHandlers) RunNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	taskID, err := h.Svc.RunNow(r.Context(), req.Task, req.Args, req.Kwargs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"task":    req.Task,
		"task_id": taskID,
	})
}

// Preview handles GET /api/schedules/preview?cron=...&timezone=...&count=n.
func (h *ScheduleHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	cron := r.URL.Query().Get("cron")
	if cron == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation_failed",
			Err:     errors.New("cron query parameter is required"),
		})
		return
	}
	timezone := r.URL.Query().Get("timezone")
	count := parseIntQuery(r, "count", 0)

	fires, err := h.Svc.Preview(cron, timezone, count)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	tz := timezone
	if tz == "" {
		tz = "UTC"
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"next_runs_utc": fires,
		"tz":            tz,
	})
}

// Export handles GET /api/schedules/export.
func (h *ScheduleHandlers) Export(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Svc.Export(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// importRequest wraps the portable schedule list for bulk upserts.
type importRequest struct {
	Schedules []service.ExportedSchedule `json:"schedules"`
}

// Import handles POST /api/schedules/import. Individual invalid items are
// counted, never abort the batch.
func (h *ScheduleHandlers) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Schedules) == 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation_failed",
			Err:     errors.New("schedules list cannot be empty"),
		})
		return
	}

	created, failed, err := h.Svc.Import(r.Context(), req.Schedules, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{
		"created": created,
		"failed":  failed,
	})
}
