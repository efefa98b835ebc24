package cache

import (
	"errors"
	"fmt"
)

// ErrorCode classifies cache engine errors.
type ErrorCode int

const (
	// ErrNotFound indicates the content does not exist or has expired.
	ErrNotFound ErrorCode = iota + 1

	// ErrCapacityExceeded indicates admission cannot fit the incoming item
	// even after a full expiry and eviction pass.
	ErrCapacityExceeded

	// ErrConflict indicates a sync version mismatch awaiting manual resolution.
	ErrConflict

	// ErrSyncTransient indicates a retryable network or timeout failure.
	ErrSyncTransient

	// ErrSyncPermanent indicates sync retries have been exhausted.
	ErrSyncPermanent

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrClosed indicates the store has been closed.
	ErrClosed
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrCapacityExceeded:
		return "CacheCapacityExceeded"
	case ErrConflict:
		return "Conflict"
	case ErrSyncTransient:
		return "SyncTransient"
	case ErrSyncPermanent:
		return "SyncPermanent"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// Error is a cache engine error with a code and optional content reference.
type Error struct {
	Code      ErrorCode
	Message   string
	ContentID ContentID
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ContentID != "" {
		return fmt.Sprintf("%s: %s (content: %s)", e.Code, e.Message, e.ContentID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a NotFound error for a content id.
func NewNotFoundError(id ContentID) *Error {
	return &Error{Code: ErrNotFound, Message: "content not found", ContentID: id}
}

// NewCapacityExceededError creates a CacheCapacityExceeded error.
func NewCapacityExceededError(required, ceiling int64) *Error {
	return &Error{
		Code:    ErrCapacityExceeded,
		Message: fmt.Sprintf("required %d bytes exceeds per-owner ceiling of %d bytes", required, ceiling),
	}
}

// NewConflictError creates a Conflict error for a content id.
func NewConflictError(id ContentID) *Error {
	return &Error{Code: ErrConflict, Message: "sync version mismatch, awaiting manual resolution", ContentID: id}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: message}
}

// NewClosedError creates a Closed error.
func NewClosedError() *Error {
	return &Error{Code: ErrClosed, Message: "store is closed"}
}

// IsNotFound reports whether err is a NotFound cache error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsCapacityExceeded reports whether err is a CacheCapacityExceeded error.
func IsCapacityExceeded(err error) bool {
	return hasCode(err, ErrCapacityExceeded)
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	return hasCode(err, ErrConflict)
}

// IsInvalidArgument reports whether err is an InvalidArgument error.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrInvalidArgument)
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}
