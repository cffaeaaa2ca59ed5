package domain

import "time"

// JobStatus enumerates job lifecycle states. Transitions are monotonic
// (pending -> processing -> complete) except that failed is a terminal
// dead-end reachable from any state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// GeneratedImage records one successful generation outcome. JobID is carried
// explicitly so nothing has to decode it back out of the image id.
type GeneratedImage struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	PromptIndex int               `json:"prompt_index"`
	Prompt      string            `json:"prompt"`
	StorageKey  string            `json:"storage_key"`
	Assignment  map[string]string `json:"assignment,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// JobError records one terminal per-prompt failure.
type JobError struct {
	PromptIndex int    `json:"prompt_index"`
	Prompt      string `json:"prompt,omitempty"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}

// JobRecord is the single source of truth for a batch generation job. The
// batch processor is its only writer; CompletedImages and Errors are
// append-only and readers always receive copies.
type JobRecord struct {
	ID              string           `json:"id"`
	Status          JobStatus        `json:"status"`
	Template        string           `json:"template"`
	Model           string           `json:"model"`
	AspectRatio     string           `json:"aspect_ratio"`
	TotalPrompts    int              `json:"total_prompts"`
	CompletedImages []GeneratedImage `json:"completed_images"`
	Errors          []JobError       `json:"errors"`
	FailedCount     int              `json:"failed_count"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Settled reports whether every prompt has reached a terminal outcome.
func (j *JobRecord) Settled() bool {
	return len(j.CompletedImages)+j.FailedCount >= j.TotalPrompts
}

// Elapsed returns the job age at the given instant.
func (j *JobRecord) Elapsed(now time.Time) time.Duration {
	return now.Sub(j.StartTime)
}
