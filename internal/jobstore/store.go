// Package jobstore keeps the durable state of batch generation jobs in an
// in-process TTL cache. Records survive for a bounded retention window that
// resets on every write; expiry is the normal cleanup path.
package jobstore

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"server/internal/domain"
)

// DefaultRetention is how long a job record outlives its last write.
const DefaultRetention = 24 * time.Hour

// Store is a keyed map of job records with retention-based expiry. It assumes
// a single writer per job (the batch processor run that owns it); concurrent
// readers are safe because every accessor returns a deep copy.
type Store struct {
	mu        sync.Mutex
	records   *cache.Cache
	retention time.Duration
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention overrides the retention window.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New constructs a Store with the given options.
func New(opts ...Option) *Store {
	s := &Store{
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = cache.New(s.retention, s.retention/2)
	return s
}

// Create registers a fresh pending record for the job. TotalPrompts is fixed
// for the record's lifetime.
func (s *Store) Create(jobID string, totalPrompts int, model, aspectRatio, template string) *domain.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &domain.JobRecord{
		ID:              jobID,
		Status:          domain.JobStatusPending,
		Template:        template,
		Model:           model,
		AspectRatio:     aspectRatio,
		TotalPrompts:    totalPrompts,
		CompletedImages: []domain.GeneratedImage{},
		Errors:          []domain.JobError{},
		StartTime:       now,
		UpdatedAt:       now,
	}
	s.records.Set(jobID, rec, s.retention)
	return copyRecord(rec)
}

// Get returns a copy of the job record, or domain.ErrNotFound once the
// record has been evicted or never existed.
func (s *Store) Get(jobID string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return copyRecord(rec), nil
}

// MergeProgress appends a chunk's successes and failures to the record,
// recomputes the failed count and derived status, and resets the retention
// TTL. It is safe to call repeatedly with disjoint chunks from one run;
// once the record is terminal the counts never regress.
func (s *Store) MergeProgress(jobID string, images []domain.GeneratedImage, errs []domain.JobError) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	rec.CompletedImages = append(rec.CompletedImages, images...)
	rec.Errors = append(rec.Errors, errs...)
	rec.FailedCount = perPromptFailures(rec.Errors)
	rec.UpdatedAt = s.now()

	// Failed is a dead-end; otherwise the derived invariant decides.
	if rec.Status != domain.JobStatusFailed {
		if rec.Settled() {
			rec.Status = domain.JobStatusComplete
		} else {
			rec.Status = domain.JobStatusProcessing
		}
	}

	s.records.Set(jobID, rec, s.retention)
	return copyRecord(rec), nil
}

// MarkFailed dead-ends the job with a synthetic error entry. Progress
// already merged is preserved. The entry carries prompt index -1 because
// the failure belongs to the run, not to any one prompt; it is excluded
// from FailedCount, which counts per-prompt outcomes only.
func (s *Store) MarkFailed(jobID, message string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.JobStatusFailed
	rec.ErrorMessage = message
	rec.Errors = append(rec.Errors, domain.JobError{PromptIndex: -1, Message: message})
	rec.UpdatedAt = s.now()
	s.records.Set(jobID, rec, s.retention)
	return copyRecord(rec), nil
}

// Delete removes the record ahead of retention expiry.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Delete(jobID)
}

func (s *Store) lookup(jobID string) (*domain.JobRecord, error) {
	v, ok := s.records.Get(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v.(*domain.JobRecord), nil
}

// perPromptFailures counts failures attributed to a prompt. Run-level
// entries appended by MarkFailed carry index -1 and are skipped.
func perPromptFailures(errs []domain.JobError) int {
	n := 0
	for _, e := range errs {
		if e.PromptIndex >= 0 {
			n++
		}
	}
	return n
}

func copyRecord(rec *domain.JobRecord) *domain.JobRecord {
	out := *rec
	out.CompletedImages = append([]domain.GeneratedImage(nil), rec.CompletedImages...)
	out.Errors = append([]domain.JobError(nil), rec.Errors...)
	return &out
}
