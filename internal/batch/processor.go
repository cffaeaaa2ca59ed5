// Package batch drives expanded prompts through the image generation
// provider under a bounded concurrency cap and folds the results into the
// job store in whole-chunk increments.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"server/internal/domain"
	"server/internal/imagegen"
	"server/internal/infra"
	"server/internal/prompt"
)

const (
	// DefaultConcurrency caps simultaneously in-flight generation calls.
	// It is independent of chunk size: chunks set the unit of progress
	// reporting, this caps parallel load on the provider.
	DefaultConcurrency = 2

	// DefaultChunkSize is used when the caller requests nothing sane.
	DefaultChunkSize = 5

	// DefaultMaxAttempts bounds retries for transient failures. The final
	// attempt's outcome is authoritative.
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the first backoff interval; it doubles on
	// every subsequent attempt.
	DefaultRetryBaseDelay = time.Second
)

// Config tunes a Processor. Zero values fall back to the defaults above.
type Config struct {
	Concurrency    int
	MaxChunkSize   int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// Limiter optionally paces calls to the provider across all workers
	// of a run. Nil disables pacing.
	Limiter *rate.Limiter
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = DefaultChunkSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return c
}

// ObjectWriter persists generated image bytes under a storage key.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// JobStore is the slice of the job store the processor needs. It assumes a
// single writer per job id: the one Run that owns it.
type JobStore interface {
	Get(jobID string) (*domain.JobRecord, error)
	MergeProgress(jobID string, images []domain.GeneratedImage, errs []domain.JobError) (*domain.JobRecord, error)
	MarkFailed(jobID, message string) (*domain.JobRecord, error)
}

// Options carries the per-job knobs from the submission request.
type Options struct {
	Model       string
	AspectRatio string
	// ChunkSize is the requested batch size; the effective size is
	// min(requested, configured maximum).
	ChunkSize int
}

// Processor is the sole writer of job records. One Run owns one job.
type Processor struct {
	generator imagegen.Generator
	store     JobStore
	files     ObjectWriter
	logger    infra.Logger
	cfg       Config
}

// New constructs a Processor.
func New(generator imagegen.Generator, store JobStore, files ObjectWriter, logger infra.Logger, cfg Config) *Processor {
	return &Processor{
		generator: generator,
		store:     store,
		files:     files,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

type outcome struct {
	image *domain.GeneratedImage
	fail  *domain.JobError
}

// Run processes every expanded prompt to a terminal outcome, merging
// progress into the job store one chunk at a time. It is meant to be called
// in a detached goroutine; all results land in the store, not the caller.
func (p *Processor) Run(ctx context.Context, jobID string, prompts []prompt.ExpandedPrompt, opts Options) {
	logger := p.logger.With().Str("job_id", jobID).Logger()

	if _, err := p.store.Get(jobID); err != nil {
		logger.Error().Err(err).Msg("batch: job record missing before run")
		p.failJob(jobID, fmt.Sprintf("job record unavailable: %v", err), logger)
		return
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 || chunkSize > p.cfg.MaxChunkSize {
		chunkSize = p.cfg.MaxChunkSize
	}

	logger.Info().
		Int("total_prompts", len(prompts)).
		Int("chunk_size", chunkSize).
		Int("concurrency", p.cfg.Concurrency).
		Str("model", opts.Model).
		Msg("batch: run started")

	// Chunks run strictly sequentially; only the fan-out inside one chunk
	// is parallel, so worst-case provider load is the concurrency cap.
	for start := 0; start < len(prompts); start += chunkSize {
		end := start + chunkSize
		if end > len(prompts) {
			end = len(prompts)
		}
		chunk := prompts[start:end]

		images, failures := p.processChunk(ctx, jobID, chunk, opts, logger)

		if _, err := p.store.MergeProgress(jobID, images, failures); err != nil {
			logger.Error().Err(err).Msg("batch: merge progress failed")
			p.failJob(jobID, fmt.Sprintf("persist progress: %v", err), logger)
			return
		}
		logger.Info().
			Int("chunk_start", start).
			Int("succeeded", len(images)).
			Int("failed", len(failures)).
			Msg("batch: chunk merged")
	}

	logger.Info().Msg("batch: run finished")
}

// processChunk drives every prompt of one chunk to a terminal outcome. The
// chunk is only reported once all of its prompts have settled.
func (p *Processor) processChunk(ctx context.Context, jobID string, chunk []prompt.ExpandedPrompt, opts Options, logger infra.Logger) ([]domain.GeneratedImage, []domain.JobError) {
	outcomes := make([]outcome, len(chunk))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)
	for i, pr := range chunk {
		i, pr := i, pr
		eg.Go(func() error {
			outcomes[i] = p.attempt(egCtx, jobID, pr, opts, logger)
			// Failures are data, not errors: one prompt must never
			// abort the rest of the chunk.
			return nil
		})
	}
	_ = eg.Wait()

	var images []domain.GeneratedImage
	var failures []domain.JobError
	for _, o := range outcomes {
		switch {
		case o.image != nil:
			images = append(images, *o.image)
		case o.fail != nil:
			failures = append(failures, *o.fail)
		}
	}
	return images, failures
}

// attempt runs one prompt through the provider with bounded exponential
// backoff on retryable failures.
func (p *Processor) attempt(ctx context.Context, jobID string, pr prompt.ExpandedPrompt, opts Options, logger infra.Logger) outcome {
	operation := func() (*imagegen.Image, error) {
		if p.cfg.Limiter != nil {
			if err := p.cfg.Limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		img, err := p.generator.Generate(ctx, imagegen.GenerateRequest{
			Prompt:      pr.Text,
			Model:       opts.Model,
			AspectRatio: opts.AspectRatio,
			RequestID:   jobID,
		})
		if err != nil && !imagegen.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return img, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.RetryBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	img, err := backoff.RetryWithData(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		logger.Warn().Err(err).Int("prompt_index", pr.Index).Msg("batch: prompt failed")
		return outcome{fail: &domain.JobError{
			PromptIndex: pr.Index,
			Prompt:      pr.Text,
			Message:     err.Error(),
			Retryable:   imagegen.IsRetryable(err),
		}}
	}

	now := time.Now()
	imageID := fmt.Sprintf("%s-%04d-%d", jobID, pr.Index, now.UnixMilli())
	key := path.Join("generated", jobID, imageID+extensionForFormat(img.Format))
	savedKey, err := p.files.Write(ctx, key, img.Data)
	if err != nil {
		logger.Error().Err(err).Int("prompt_index", pr.Index).Msg("batch: persist image failed")
		return outcome{fail: &domain.JobError{
			PromptIndex: pr.Index,
			Prompt:      pr.Text,
			Message:     fmt.Sprintf("persist image: %v", err),
		}}
	}

	return outcome{image: &domain.GeneratedImage{
		ID:          imageID,
		JobID:       jobID,
		PromptIndex: pr.Index,
		Prompt:      pr.Text,
		StorageKey:  savedKey,
		Assignment:  pr.Assignment,
		CreatedAt:   now,
	}}
}

func (p *Processor) failJob(jobID, message string, logger infra.Logger) {
	if _, err := p.store.MarkFailed(jobID, message); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Error().Err(err).Msg("batch: mark failed errored")
	}
}

func extensionForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
