package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by repositories when a uniqueness constraint or
	// a status precondition rejects a write
	ErrConflict = errors.New("conflict")
)

// ValidationError reports missing or malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for a field
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a duplicate trust entry or a transition out of a terminal state
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrConflict
func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports an unknown id or tenant
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DeliveryError reports a failure of the external relay
type DeliveryError struct {
	MessageID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed, message %s remains quarantined: %v", e.MessageID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// CacheSyncError reports a failed cache projection. It is only ever logged.
type CacheSyncError struct {
	Task string
	Err  error
}

func (e *CacheSyncError) Error() string {
	return fmt.Sprintf("cache sync %s: %v", e.Task, e.Err)
}

func (e *CacheSyncError) Unwrap() error { return e.Err }
