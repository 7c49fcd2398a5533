package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/middleware"
)

// RouterOptions configures the middleware stack of NewRouter.
type RouterOptions struct {
	ServiceName string
	CORSOrigin  string
	RateLimiter *middleware.RateLimiter // nil disables rate limiting
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.ServiceName != "" {
		r.Use(otel.HTTPMiddleware(opts.ServiceName))
	}
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(CORS(opts.CORSOrigin))
	r.Use(middleware.TenantID)

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		MountRoutes(r, h)
	})
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})
		r.Get("/health", h.Health)

		r.Post("/conversations/{id}/utterances", h.SubmitUtterance)

		r.Get("/pipelines/{cid}", h.GetPipeline)
		r.Delete("/pipelines/{cid}", h.CancelPipeline)
		r.Post("/pipelines/{cid}/parameters", h.SubmitParameters)
		r.Post("/pipelines/{cid}/confirm", h.ConfirmExecution)
		r.Post("/pipelines/{cid}/resume", h.ResumePipeline)

		if h.WS != nil {
			r.Get("/ws", h.WS.ServeHTTP)
		}
	})
}
