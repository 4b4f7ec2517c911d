package httpx

import (
	"net/http"

	"github.com/quantmatrix/taskplane/internal/service"
)

// CatalogHandlers exposes the factory schedule catalog.
type CatalogHandlers struct {
	Svc *service.ScheduleService
}

// List handles GET /api/catalog: the factory catalog grouped by logical
// group, each item annotated with its latest run.
func (h *CatalogHandlers) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Svc.Catalog(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"catalog": groups})
}
