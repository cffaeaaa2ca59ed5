package imagegen

import (
	"context"
	"errors"
	"fmt"

	"server/internal/domain"
)

// GenerateRequest describes a single generation attempt for one concrete
// prompt. RequestID is the owning job id, used for tracing only.
type GenerateRequest struct {
	Prompt      string
	Model       string
	AspectRatio string
	RequestID   string
}

// Image is the normalized result of a successful generation call.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Generator is the contract implemented by all image providers. Retry policy
// lives with the caller; implementations make exactly one attempt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Image, error)
}

// GenerationError classifies a failed attempt. Retryable marks transient
// conditions (rate limits, server errors, transport failures) that the batch
// processor may back off and retry; everything else fails the prompt
// immediately.
type GenerationError struct {
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (http %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is matches every generation failure against domain.ErrProviderFailure so
// callers can test the category without knowing the concrete type.
func (e *GenerationError) Is(target error) bool {
	return target == domain.ErrProviderFailure
}

// IsRetryable reports whether a generation failure is worth retrying.
// Unclassified errors are treated as transport failures and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Retryable
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
