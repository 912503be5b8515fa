// Package errors provides custom error types for the offline kit
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeConnectivityFailure ErrorCode = "CONNECTIVITY_FAILURE"
	ErrCodeNotFoundLocally     ErrorCode = "NOT_FOUND_LOCALLY"
	ErrCodeConflictFailure     ErrorCode = "CONFLICT_FAILURE"
	ErrCodePersistenceFailure  ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeValidationFailure   ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of offline operation
type Operation string

const (
	OpRead            Operation = "read"
	OpWrite           Operation = "write"
	OpReplay          Operation = "replay"
	OpReplicate       Operation = "replicate"
	OpEnqueue         Operation = "enqueue"
	OpDequeue         Operation = "dequeue"
	OpStore           Operation = "store"
	OpLoad            Operation = "load"
	OpClear           Operation = "clear"
	OpConflictResolve Operation = "conflict_resolve"
	OpTransport       Operation = "transport"
	OpStart           Operation = "start"
	OpClose           Operation = "close"
)

// SyncError represents an error that occurred while serving or synchronizing data
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewConnectivityError creates an error for an unreachable remote.
// The engine recovers these locally and never hands them to callers.
func NewConnectivityError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConnectivityFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewPersistenceError creates a new storage-related SyncError
func NewPersistenceError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodePersistenceFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Op:        op,
		Component: "sync",
		Err:       cause,
		Retryable: false,
	}
}

// NewNotFoundError creates the error returned when a read fallback finds nothing.
func NewNotFoundError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNotFoundLocally,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost SyncError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// IsConnectivity reports whether err is, or wraps, a connectivity failure.
func IsConnectivity(err error) bool { return hasCode(err, ErrCodeConnectivityFailure) }

// IsConflict reports whether err is, or wraps, a revision conflict.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflictFailure) }

// IsPersistence reports whether err is, or wraps, a local store failure.
func IsPersistence(err error) bool { return hasCode(err, ErrCodePersistenceFailure) }

// IsNotFoundLocally reports whether err signals an empty read fallback.
func IsNotFoundLocally(err error) bool { return hasCode(err, ErrCodeNotFoundLocally) }

// IsValidation reports whether err is, or wraps, a validation failure.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidationFailure) }

// Is, As and Unwrap re-export the standard helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
