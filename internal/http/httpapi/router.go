package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter wires the API surface. Static serving exposes the filesystem
// store so snapshot image URLs resolve in development.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/images/batch", func(r chi.Router) {
		r.With(middleware.RateLimit(30, time.Minute)).Post("/", app.BatchGenerate)
		r.Get("/{job_id}", app.BatchStatus)
		r.Get("/{job_id}/stream", app.BatchStream)
		r.Get("/{job_id}/download", app.BatchDownload)
	})

	if base := app.Files.BasePath(); base != "" {
		fs := stdhttp.FileServer(stdhttp.Dir(base))
		r.Handle("/static/*", stdhttp.StripPrefix("/static/", fs))
	}

	return r
}
