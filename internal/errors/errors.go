// Package errors provides the structured error taxonomy for docsmcp.
//
// Every subsystem boundary tags errors with a Kind so that callers can
// map them uniformly: the MCP surface reports kind + message, the HTTP
// surface maps kinds to status codes, and the job runner decides
// retry/skip/fail from the kind alone.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by its handling semantics.
type Kind string

const (
	// KindNotFound indicates a missing library, version, page, or job.
	KindNotFound Kind = "NOT_FOUND"
	// KindValidation indicates rejected input (bad URL, unknown provider,
	// illegal status transition).
	KindValidation Kind = "VALIDATION"
	// KindTransient indicates a retryable fetch failure (timeout, 5xx, reset).
	KindTransient Kind = "TRANSIENT"
	// KindPermanent indicates a non-retryable fetch failure (DNS, 4xx).
	KindPermanent Kind = "PERMANENT"
	// KindEmbedding indicates a non-size embedding provider failure.
	KindEmbedding Kind = "EMBEDDING"
	// KindIntegrity indicates a fatal store problem (dimension mismatch,
	// corrupt schema). Fatal at startup.
	KindIntegrity Kind = "INTEGRITY"
	// KindCanceled indicates cooperative cancellation.
	KindCanceled Kind = "CANCELED"
	// KindInternal is the fallback for unexpected failures.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type carried across subsystem boundaries.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a cause. A nil cause still yields a real
// error; returning a nil *Error here would produce a non-nil error
// interface that panics in KindOf.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Validation creates a validation error.
func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }

// Transient creates a retryable fetch error.
func Transient(err error, format string, args ...any) *Error {
	return Wrap(KindTransient, err, format, args...)
}

// Permanent creates a non-retryable fetch error.
func Permanent(err error, format string, args ...any) *Error {
	return Wrap(KindPermanent, err, format, args...)
}

// Embedding creates a non-size embedding provider error.
func Embedding(err error, format string, args ...any) *Error {
	return Wrap(KindEmbedding, err, format, args...)
}

// Integrity creates a fatal store integrity error.
func Integrity(err error, format string, args ...any) *Error {
	return Wrap(KindIntegrity, err, format, args...)
}

// KindOf extracts the Kind from an error chain.
// Context cancellation maps to KindCanceled; unknown errors to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the error should be retried by the fetch layer.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransient)
}

// HTTPStatus maps an error kind to an HTTP status code for the web surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
