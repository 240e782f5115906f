// Package domain contains the core business entities for Alexander Uploads.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations and the
// failure classes callers are expected to branch on.

var (
	// ===========================================
	// Request Errors
	// ===========================================

	// ErrValidation indicates a business-rule validator rejected the input.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedProvider indicates no strategy exists for the provider.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ===========================================
	// Session Errors
	// ===========================================

	// ErrDuplicateSession indicates a session with the same identity already exists.
	ErrDuplicateSession = errors.New("duplicate upload session")

	// ErrSessionNotFound indicates no session matches the id (never created or expired).
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInvalidTransition indicates the session is not in a state that allows the change.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrPartsExceedTotal indicates recording a part would push parts_received past total_parts.
	ErrPartsExceedTotal = errors.New("parts received cannot exceed total parts")

	// ErrDuplicatePart indicates the part number was already recorded.
	ErrDuplicatePart = errors.New("part already recorded")

	// ===========================================
	// Transfer Errors
	// ===========================================

	// ErrIncompleteMultipart indicates completion was called without the
	// provider transfer id or the part list.
	ErrIncompleteMultipart = errors.New("multipart completion requires mpu_upload_id and parts")

	// ErrUpload wraps any failure during completion.
	ErrUpload = errors.New("upload failed")

	// ErrObjectNotFound indicates the object does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageBackend indicates a storage or key-value backend failure.
	ErrStorageBackend = errors.New("storage backend error")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., session id, object key).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// WrapError wraps an error with domain context if it's not already a DomainError.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	return &DomainError{
		Err:     err,
		Message: message,
	}
}

// BackendError marks err as a storage backend failure while keeping it
// reachable through errors.Is/errors.As.
func BackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageBackend, op, err)
}
