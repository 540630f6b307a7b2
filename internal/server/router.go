package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/closerbrain/internal/api"
	"github.com/cloo-solutions/closerbrain/internal/api/handlers"
	"github.com/cloo-solutions/closerbrain/internal/api/middleware"
	"github.com/cloo-solutions/closerbrain/internal/logger"
)

const (
	maxBodyBytes   int64 = 12 << 20
	maxUploadBytes int64 = 50 << 20
	healthTimeout        = 2 * time.Second
)

type RouterConfig struct {
	Logger            *logger.Logger
	HealthCheck       func(ctx context.Context) error
	SourceHandler     *handlers.SourceHandler
	BrainHandler      *handlers.BrainHandler
	ProspectHandler   *handlers.ProspectHandler
	SuggestionHandler *handlers.SuggestionHandler
	WorkspaceHandler  *handlers.WorkspaceHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes, maxUploadBytes))

	r.Get("/health", health(cfg.HealthCheck))

	r.Group(func(r chi.Router) {
		r.Use(middleware.OwnerScope)

		r.Route("/sources", func(r chi.Router) {
			r.Post("/", cfg.SourceHandler.Create)
			r.Get("/", cfg.SourceHandler.List)
			r.Get("/{id}", cfg.SourceHandler.Get)
			r.Delete("/{id}", cfg.SourceHandler.Delete)
			r.Post("/{id}/process", cfg.SourceHandler.Process)
			r.Get("/{id}/chunks", cfg.SourceHandler.Chunks)
		})

		r.Get("/brain", cfg.BrainHandler.Get)

		r.Route("/prospects", func(r chi.Router) {
			r.Post("/", cfg.ProspectHandler.Create)
			r.Get("/{id}", cfg.ProspectHandler.Get)
			r.Put("/{id}/outcome", cfg.ProspectHandler.UpdateOutcome)
			r.Post("/{id}/suggestions", cfg.SuggestionHandler.Generate)
			r.Post("/{id}/opener", cfg.SuggestionHandler.Opener)
			r.Post("/{id}/reengage", cfg.SuggestionHandler.Reengage)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Post("/{id}/use", cfg.SuggestionHandler.MarkUsed)
			r.Post("/{id}/feedback", cfg.SuggestionHandler.Feedback)
		})

		r.Route("/workspaces", func(r chi.Router) {
			r.Post("/", cfg.WorkspaceHandler.Create)
			r.Get("/{id}", cfg.WorkspaceHandler.Get)
		})
	})

	return r
}

func health(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				api.Success(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
