package httpx

import (
	"log/slog"
	"net/http"

	"github.com/quantmatrix/taskplane/internal/data"
	domainauth "github.com/quantmatrix/taskplane/internal/domain/auth"
	"github.com/quantmatrix/taskplane/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Schedules     *service.ScheduleService
	Status        *data.TaskStatusRepo
	Auth          *service.AuthService
	SchedulerMode string
	CookieDomain  string
	Logger        *slog.Logger
}

// NewRouter creates the JSON admin API router. When Auth is nil the API is
// unauthenticated (dev mode); otherwise reads require a session and writes
// require the admin role.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	scheduleHandlers := &ScheduleHandlers{
		Svc:           services.Schedules,
		SchedulerMode: services.SchedulerMode,
		Logger:        services.Logger,
	}
	runHandlers := &RunHandlers{Svc: services.Schedules, Status: services.Status}
	catalogHandlers := &CatalogHandlers{Svc: services.Schedules}

	registerScheduleRoutes(mux, scheduleHandlers, services.Auth)
	registerRunRoutes(mux, runHandlers, services.Auth)
	registerCatalogRoutes(mux, catalogHandlers, services.Auth)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.Auth != nil {
		authHandlers := &AuthHandlers{
			Svc:          services.Auth,
			CookieDomain: services.CookieDomain,
			Logger:       services.Logger,
		}
		registerAuthRoutes(mux, authHandlers)
	}

	return mux
}

// readWrap gates read endpoints behind an authenticated session; no-op
// when auth is disabled.
func readWrap(auth *service.AuthService) func(http.Handler) http.Handler {
	if auth == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return RequireAuth(auth)
}

// adminWrap gates mutating endpoints behind the admin role; no-op when
// auth is disabled.
func adminWrap(auth *service.AuthService) func(http.Handler) http.Handler {
	if auth == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return RequireRole(auth, domainauth.RoleAdmin)
}

func registerScheduleRoutes(mux *http.ServeMux, h *ScheduleHandlers, auth *service.AuthService) {
	read := readWrap(auth)
	admin := adminWrap(auth)

	mux.Handle("GET /api/schedules", read(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/schedules/preview", read(http.HandlerFunc(h.Preview)))
	mux.Handle("GET /api/schedules/export", read(http.HandlerFunc(h.Export)))

	mux.Handle("POST /api/schedules", admin(http.HandlerFunc(h.Create)))
	mux.Handle("PUT /api/schedules/{name}", admin(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/schedules/{name}", admin(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/schedules/{name}/pause", admin(http.HandlerFunc(h.Pause)))
	mux.Handle("POST /api/schedules/{name}/resume", admin(http.HandlerFunc(h.Resume)))
	mux.Handle("POST /api/schedules/run-now", admin(http.HandlerFunc(h.RunNow)))
	mux.Handle("POST /api/schedules/import", admin(http.HandlerFunc(h.Import)))
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers, auth *service.AuthService) {
	read := readWrap(auth)
	mux.Handle("GET /api/runs", read(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/tasks/{name}/status", read(http.HandlerFunc(h.TaskStatus)))
}

func registerCatalogRoutes(mux *http.ServeMux, h *CatalogHandlers, auth *service.AuthService) {
	read := readWrap(auth)
	mux.Handle("GET /api/catalog", read(http.HandlerFunc(h.List)))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
}
