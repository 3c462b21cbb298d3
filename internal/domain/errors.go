package domain

import (
	"fmt"
	"time"
)

// ValidationError rejects a malformed subject or report. No state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects a report because its reporter exceeded the sliding
// window budget. The reporter is not told.
type RateLimitError struct {
	ReporterID string
	Limit      int
	Window     time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: more than %d reports in %s", e.Limit, e.Window)
}

// TransientStorageError wraps a failed persistence attempt. It is logged and
// retried in the background and never reaches the traffic path.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// StaleUpdateError marks an Update whose version is not newer than the cached
// one. Callers discard it silently.
type StaleUpdateError struct {
	Subject  string
	Current  uint64
	Received uint64
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("stale update for %s: have version %d, got %d", e.Subject, e.Current, e.Received)
}
