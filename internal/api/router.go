package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
)

// NewRouter creates a chi router and registers the API handlers.
func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS.Concise(true),
	}))

	r.Get("/healthz", h.Healthz)
	r.Route("/v1/watches", func(r chi.Router) {
		r.Get("/", h.ListWatches)
		r.Get("/{id}", h.GetWatch)
		r.Get("/{id}/checks", h.ListChecks)
	})

	return r
}
