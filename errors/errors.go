// Package errors provides error handling for scribe.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and details from one import path, and defines the
// sentinel errors the dispatcher and its HTTP layer agree on.
//
// Usage:
//
//	if err := store.Update(id, upd); err != nil {
//	    return errors.Wrapf(err, "failed to mark job %s processing", id)
//	}
//
//	if errors.Is(err, errors.ErrNotFound) {
//	    // 404
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Combining
var (
	CombineErrors = crdb.CombineErrors
	Mark          = crdb.Mark
)

// Sentinel errors shared across scribe.
// Wrap these with errors.Wrap() to add context while keeping errors.Is() working.
var (
	// ErrNotFound indicates the requested job, record or artifact does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates caller input was malformed or incomplete
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a duplicate identifier
	ErrConflict = New("resource conflict")

	// ErrInvalidTransition indicates a job status change that would move
	// backwards or out of a terminal state
	ErrInvalidTransition = New("invalid status transition")

	// ErrServiceUnavailable indicates the dispatcher is not accepting work
	ErrServiceUnavailable = New("service unavailable")

	// ErrRateLimited indicates the caller exceeded the submission rate
	ErrRateLimited = New("rate limited")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsInvalidTransitionError checks if an error is or wraps ErrInvalidTransition
func IsInvalidTransitionError(err error) bool {
	return err != nil && Is(err, ErrInvalidTransition)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewInvalidTransitionError creates an invalid-transition error naming both states
func NewInvalidTransitionError(from, to string) error {
	return Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}
