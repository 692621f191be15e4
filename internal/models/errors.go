package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the store, cache, provider clients and services.
// Handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream failure")
	ErrStore      = errors.New("store failure")
	ErrCache      = errors.New("cache failure")
)

// UpstreamError carries the provider's status and message for a non-2xx reply.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes every UpstreamError match ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
