// Package progress republishes job store state to status-checking clients,
// either as a one-shot snapshot or as a time-bounded live feed.
package progress

import (
	"context"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const (
	// DefaultPollInterval is the live feed's poll cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultMaxFeedDuration bounds a live feed's wall-clock lifetime.
	// After it elapses the feed ends regardless of job state and the
	// caller falls back to snapshot polling.
	DefaultMaxFeedDuration = 5 * time.Minute

	// DefaultMaxErrorsPerTick caps how many error events one tick emits.
	DefaultMaxErrorsPerTick = 5
)

// Store is the read-only slice of the job store the publisher needs.
type Store interface {
	Get(jobID string) (*domain.JobRecord, error)
}

// Sink receives named feed events. Implementations adapt the transport
// (server-sent events, tests); a Send error drops that event only.
type Sink interface {
	Send(event string, data any) error
}

// ImageInfo is the client-facing listing of one completed image.
type ImageInfo struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Prompt string `json:"prompt"`
	URL    string `json:"url"`
}

// Snapshot is the one-shot status view of a job.
type Snapshot struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	TotalPrompts    int              `json:"total_prompts"`
	CompletedCount  int              `json:"completed_count"`
	FailedCount     int              `json:"failed_count"`
	DurationSeconds float64          `json:"duration_seconds"`
	Images          []ImageInfo      `json:"images"`
}

// ProgressEvent carries images completed since the previous tick.
type ProgressEvent struct {
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Images    []ImageInfo `json:"images"`
}

// ErrorEvent surfaces one terminal per-prompt failure.
type ErrorEvent struct {
	Prompt    string `json:"prompt"`
	Error     string `json:"error"`
	Index     int    `json:"index"`
	Retryable bool   `json:"retryable"`
}

// CompleteEvent is the terminal summary that ends a feed.
type CompleteEvent struct {
	TotalGenerated  int     `json:"total_generated"`
	TotalFailed     int     `json:"total_failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FeedError reports a job that disappeared mid-feed.
type FeedError struct {
	Error string `json:"error"`
}

// Publisher reads the job store and serves progress to any number of
// status-checking clients. It never writes business fields.
type Publisher struct {
	store            Store
	assetBaseURL     string
	logger           infra.Logger
	pollInterval     time.Duration
	maxFeedDuration  time.Duration
	maxErrorsPerTick int
	now              func() time.Time
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithPollInterval overrides the feed poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(p *Publisher) { p.pollInterval = d }
}

// WithMaxFeedDuration overrides the feed lifetime cap.
func WithMaxFeedDuration(d time.Duration) Option {
	return func(p *Publisher) { p.maxFeedDuration = d }
}

// WithClock injects the time source used for elapsed calculations.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// New constructs a Publisher. assetBaseURL prefixes storage keys when
// building client-facing image URLs.
func New(store Store, assetBaseURL string, logger infra.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		store:            store,
		assetBaseURL:     strings.TrimRight(assetBaseURL, "/"),
		logger:           logger,
		pollInterval:     DefaultPollInterval,
		maxFeedDuration:  DefaultMaxFeedDuration,
		maxErrorsPerTick: DefaultMaxErrorsPerTick,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot returns the current status view of a job, or domain.ErrNotFound.
func (p *Publisher) Snapshot(jobID string) (*Snapshot, error) {
	rec, err := p.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		JobID:           rec.ID,
		Status:          rec.Status,
		TotalPrompts:    rec.TotalPrompts,
		CompletedCount:  len(rec.CompletedImages),
		FailedCount:     rec.FailedCount,
		DurationSeconds: rec.Elapsed(p.now()).Seconds(),
		Images:          p.imageInfos(rec.CompletedImages),
	}, nil
}

// Stream runs the live feed for one subscriber. It polls the job store on a
// fixed cadence, emits only deltas past the high-water marks, and ends on a
// terminal status, on the duration cap, on context cancellation, or when the
// job disappears. Sink write failures drop the tick, never the loop.
func (p *Publisher) Stream(ctx context.Context, jobID string, sink Sink) {
	logger := p.logger.With().Str("job_id", jobID).Logger()

	deadline := time.NewTimer(p.maxFeedDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// High-water marks track counts, not identity: the record's
	// collections are append-only and never reorder.
	var sentImages, sentErrors int

	for {
		rec, err := p.store.Get(jobID)
		if err != nil {
			logger.Warn().Err(err).Msg("progress: job vanished mid-feed")
			p.send(sink, "error", FeedError{Error: "job no longer available"}, logger)
			return
		}

		if fresh := rec.CompletedImages[sentImages:]; len(fresh) > 0 {
			p.send(sink, "progress", ProgressEvent{
				Completed: len(rec.CompletedImages),
				Total:     rec.TotalPrompts,
				Images:    p.imageInfos(fresh),
			}, logger)
			sentImages = len(rec.CompletedImages)
		}

		if fresh := rec.Errors[sentErrors:]; len(fresh) > 0 {
			sentErrors = len(rec.Errors)
			if len(fresh) > p.maxErrorsPerTick {
				fresh = fresh[len(fresh)-p.maxErrorsPerTick:]
			}
			for _, e := range fresh {
				p.send(sink, "error", ErrorEvent{
					Prompt:    e.Prompt,
					Error:     e.Message,
					Index:     e.PromptIndex,
					Retryable: e.Retryable,
				}, logger)
			}
		}

		if rec.Status.Terminal() {
			p.send(sink, "complete", CompleteEvent{
				TotalGenerated:  len(rec.CompletedImages),
				TotalFailed:     rec.FailedCount,
				DurationSeconds: rec.Elapsed(p.now()).Seconds(),
			}, logger)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Debug().Msg("progress: feed duration cap reached")
			return
		case <-ticker.C:
		}
	}
}

// send writes one event and swallows transport failures: a dropped tick must
// not terminate the feed, and a gone client is the caller's concern.
func (p *Publisher) send(sink Sink, event string, data any, logger infra.Logger) {
	if err := sink.Send(event, data); err != nil {
		logger.Debug().Err(err).Str("event", event).Msg("progress: dropped feed event")
	}
}

func (p *Publisher) imageInfos(images []domain.GeneratedImage) []ImageInfo {
	out := make([]ImageInfo, len(images))
	for i, img := range images {
		out[i] = ImageInfo{
			ID:     img.ID,
			JobID:  img.JobID,
			Prompt: img.Prompt,
			URL:    p.assetBaseURL + "/" + img.StorageKey,
		}
	}
	return out
}
