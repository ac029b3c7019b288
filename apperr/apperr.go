// Package apperr defines the error taxonomy shared by the registry, the
// ledger and the handlers. Handlers are the only place these are unwrapped:
// validation and conflict errors become inline form errors, not-found errors
// become redirects, and storage errors are logged and shown as a generic
// failure message.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports missing, malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// NotFoundError reports a referenced id that does not exist.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// StorageError wraps any lower-level database failure. The wrapped error is
// for the server log only and must never reach the client.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

func NotFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
