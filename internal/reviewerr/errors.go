package reviewerr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable indicates the vector store is unreachable. Callers treat
// this as a cache miss rather than failing the request.
var ErrUnavailable = errors.New("vector store unavailable")

// ErrThrottled indicates the per-organization admission queue is full and
// the caller should back off.
var ErrThrottled = errors.New("throttled: admission queue full")

// ErrBudgetExceeded indicates the organization budget pre-check failed; no
// cost was incurred.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrTimeout indicates the caller-supplied deadline expired.
var ErrTimeout = errors.New("request deadline exceeded")

// ValidationError indicates bad input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// RetryableError wraps a transient upstream failure (rate limit, 5xx).
// Callers retry with bounded exponential backoff.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError wraps a permanent upstream failure (malformed input, 4xx).
// Surfaced immediately, never retried.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ModelFailure records why a single backend attempt failed.
type ModelFailure struct {
	Model  string
	Reason string
}

// GenerationFailed is returned when every backend in the ordered model list
// was exhausted. It carries per-model failure reasons.
type GenerationFailed struct {
	Failures []ModelFailure
}

func (e *GenerationFailed) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Model, f.Reason))
	}
	return "generation failed on all models: " + strings.Join(parts, "; ")
}

// Retryable wraps err as a RetryableError for the given operation.
func Retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// Fatal wraps err as a FatalError for the given operation.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsTerminal reports whether err should immediately fail the request without
// further attempts.
func IsTerminal(err error) bool {
	var ve *ValidationError
	var fe *FatalError
	return errors.As(err, &ve) || errors.As(err, &fe) ||
		errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrTimeout)
}
