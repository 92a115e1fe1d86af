package errors

import (
	"errors"
	"fmt"
)

// VaultError is the structured error type for KBVault.
// It carries the taxonomy kind, a human-readable message, optional
// key-value details, and the underlying cause.
type VaultError struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with kind sentinels.
func (e *VaultError) Is(target error) bool {
	if t, ok := target.(*VaultError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VaultError) WithDetail(key, value string) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a VaultError with the given kind and message.
func New(kind Kind, message string) *VaultError {
	return &VaultError{
		Kind:      kind,
		Message:   message,
		Retryable: kind.retryable(),
	}
}

// Newf creates a VaultError with a formatted message.
func Newf(kind Kind, format string, args ...any) *VaultError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a VaultError from an existing error.
// Returns nil when err is nil.
func Wrap(kind Kind, message string, err error) *VaultError {
	if err == nil {
		return nil
	}
	return &VaultError{
		Kind:      kind,
		Message:   message,
		Cause:     err,
		Retryable: kind.retryable(),
	}
}

// InvalidInput creates a caller-contract violation error.
func InvalidInput(message string) *VaultError {
	return New(KindInvalidInput, message)
}

// InvalidInputf creates a caller-contract violation error with formatting.
func InvalidInputf(format string, args ...any) *VaultError {
	return Newf(KindInvalidInput, format, args...)
}

// InvalidMetadata creates an envelope validation error.
func InvalidMetadata(message string) *VaultError {
	return New(KindInvalidMetadata, message)
}

// IndexRequired creates an unindexed-filter-field error.
func IndexRequired(field string) *VaultError {
	return Newf(KindIndexRequired, "filter field %q has no payload index", field).
		WithDetail("field", field)
}

// NotFound creates a missing-record error.
func NotFound(what string) *VaultError {
	return Newf(KindNotFound, "%s not found", what)
}

// Conflict creates a duplicate-requires-action error.
func Conflict(message string) *VaultError {
	return New(KindConflict, message)
}

// BackendUnavailable wraps a vector store transport or server error.
func BackendUnavailable(err error) *VaultError {
	return Wrap(KindBackendUnavailable, "vector store unavailable", err)
}

// EmbeddingFailure wraps an embedder error.
func EmbeddingFailure(err error) *VaultError {
	return Wrap(KindEmbeddingFailure, "embedding failed", err)
}

// IntegrityMismatch creates a checksum or hash mismatch error.
func IntegrityMismatch(message string) *VaultError {
	return New(KindIntegrityMismatch, message)
}

// Internal wraps an unclassified error.
func Internal(err error) *VaultError {
	return Wrap(KindInternal, "internal error", err)
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for non-VaultError values.
func KindOf(err error) Kind {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}

// IsRetryable reports whether an error in the chain is retryable.
func IsRetryable(err error) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// DetailsOf extracts the detail map from an error chain, or nil.
func DetailsOf(err error) map[string]string {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Details
	}
	return nil
}
