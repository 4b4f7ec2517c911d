package httpx

import (
	"errors"
	"net/http"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	"github.com/quantmatrix/taskplane/internal/service"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// RunHandlers provides HTTP handlers for run history and task status.
type RunHandlers struct {
	Svc    *service.ScheduleService
	Status *data.TaskStatusRepo
}

// List handles GET /api/runs?task=...&status=...&limit=n&offset=n.
func (h *RunHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultRunsLimit, maxRunsLimit)
	q := model.RunQuery{
		TaskName: r.URL.Query().Get("task"),
		Status:   model.RunStatus(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   offset,
	}

	runs, err := h.Svc.Runs(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// TaskStatus handles GET /api/tasks/{name}/status: the last status blob
// the runner published for the task.
func (h *RunHandlers) TaskStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("task name is required"),
		})
		return
	}

	status, err := h.Status.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, data.ErrStatusNotFound) {
			WriteError(w, ErrorParams{
				Code:    http.StatusNotFound,
				ErrCode: "not_found",
				Err:     errors.New("no status recorded for task " + name),
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}
