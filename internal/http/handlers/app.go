package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/batch"
	"server/internal/infra"
	"server/internal/jobstore"
	"server/internal/progress"
	"server/internal/storage"
)

// App bundles the collaborators the HTTP handlers depend on.
type App struct {
	Logger    infra.Logger
	Config    *infra.Config
	Store     *jobstore.Store
	Processor *batch.Processor
	Publisher *progress.Publisher
	Files     *storage.FileStore
}

func NewApp(logger infra.Logger, cfg *infra.Config, store *jobstore.Store, processor *batch.Processor, publisher *progress.Publisher, files *storage.FileStore) *App {
	return &App{
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		Processor: processor,
		Publisher: publisher,
		Files:     files,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"code":    kind,
		"error":   message,
	})
}
