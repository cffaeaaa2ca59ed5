package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/batch"
	"server/internal/domain"
	"server/internal/prompt"
	"server/pkg/zip"
)

// estimatedSecondsPerImage feeds the submission response's rough completion
// estimate; generation latency dominates everything else.
const estimatedSecondsPerImage = 10

type batchGenerateRequest struct {
	PromptTemplate string              `json:"prompt_template"`
	Variables      map[string][]string `json:"variables"`
	Model          string              `json:"model"`
	BatchSize      int                 `json:"batch_size"`
	AspectRatio    string              `json:"aspect_ratio"`
}

type batchGenerateResponse struct {
	Success              bool   `json:"success"`
	JobID                string `json:"job_id"`
	TotalPrompts         int    `json:"total_prompts"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// BatchGenerate expands the prompt template, creates the job record and
// detaches the batch run. The caller gets the job id immediately.
func (a *App) BatchGenerate(w http.ResponseWriter, r *http.Request) {
	var req batchGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.PromptTemplate == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt_template required")
		return
	}

	if v := prompt.Validate(req.PromptTemplate, req.Variables); !v.Valid {
		a.error(w, http.StatusBadRequest, "invalid_template", v.Message())
		return
	}

	prompts, err := prompt.Expand(req.PromptTemplate, req.Variables)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}

	model := req.Model
	if model == "" {
		model = a.Config.GeminiModel
	}

	jobID := uuid.NewString()
	a.Store.Create(jobID, len(prompts), model, req.AspectRatio, req.PromptTemplate)

	// Detached: the run owns the job from here and survives this request.
	// There is no mid-run cancellation; shutdown is the only interrupt.
	go a.Processor.Run(context.Background(), jobID, prompts, batch.Options{
		Model:       model,
		AspectRatio: req.AspectRatio,
		ChunkSize:   req.BatchSize,
	})

	a.Logger.Info().
		Str("job_id", jobID).
		Int("total_prompts", len(prompts)).
		Msg("api: batch generation accepted")

	a.json(w, http.StatusAccepted, batchGenerateResponse{
		Success:              true,
		JobID:                jobID,
		TotalPrompts:         len(prompts),
		EstimatedTimeSeconds: estimateSeconds(len(prompts), a.Config.BatchConcurrency),
	})
}

// BatchStatus serves the one-shot snapshot view of a job.
func (a *App) BatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	snap, err := a.Publisher.Snapshot(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to read job")
		return
	}
	a.json(w, http.StatusOK, snap)
}

// BatchStream serves the live progress feed over server-sent events.
func (a *App) BatchStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.Publisher.Stream(r.Context(), jobID, &sseSink{w: w, flusher: flusher})
}

// BatchDownload bundles a job's completed images into one zip archive.
func (a *App) BatchDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	rec, err := a.Store.Get(jobID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if len(rec.CompletedImages) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no completed images yet")
		return
	}

	assets := make([]zip.Asset, 0, len(rec.CompletedImages))
	for _, img := range rec.CompletedImages {
		data, err := a.Files.Read(r.Context(), img.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID).Str("image_id", img.ID).Msg("api: skipping unreadable image")
			continue
		}
		assets = append(assets, zip.Asset{Filename: path.Base(img.StorageKey), Data: data})
	}
	archive := zip.ArchiveAssets(assets)
	if len(archive) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".zip"))
	_, _ = w.Write(archive)
}

func estimateSeconds(totalPrompts, concurrency int) int {
	if concurrency <= 0 {
		concurrency = 1
	}
	est := totalPrompts * estimatedSecondsPerImage / concurrency
	if est < estimatedSecondsPerImage {
		est = estimatedSecondsPerImage
	}
	return est
}
