package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidTemplate = errors.New("invalid template")
	ErrProviderFailure = errors.New("provider failure")
)
