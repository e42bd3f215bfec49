// Package errors provides error code definitions shared by the collection core
// and the surfaces that bridge it to the UI layer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Store errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Collection errors
	ErrInFlight        ErrorCode = "OPERATION_IN_FLIGHT"
	ErrMutationPending ErrorCode = "MUTATION_PENDING"
	ErrNotLoaded       ErrorCode = "COLLECTION_NOT_LOADED"
	ErrExhausted       ErrorCode = "COLLECTION_EXHAUSTED"
	ErrItemNotFound    ErrorCode = "ITEM_NOT_FOUND"
	ErrItemUnconfirmed ErrorCode = "ITEM_UNCONFIRMED"
	ErrUnsupported     ErrorCode = "INTERACTION_UNSUPPORTED"
	ErrViewNotFound    ErrorCode = "VIEW_NOT_FOUND"

	// Remote errors
	ErrRemote        ErrorCode = "REMOTE_FAILED"
	ErrRemoteTimeout ErrorCode = "REMOTE_TIMEOUT"
	ErrRateLimited   ErrorCode = "RATE_LIMITED"

	// Stale results
	ErrStale    ErrorCode = "STALE_OPERATION"
	ErrReleased ErrorCode = "COLLECTION_RELEASED"
)

// ErrorKind is the machine-checkable class of an error.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindRemote     ErrorKind = "remote"
	KindStale      ErrorKind = "stale"
	KindInternal   ErrorKind = "internal"
)

var codeKinds = map[ErrorCode]ErrorKind{
	ErrInvalid:         KindValidation,
	ErrValidation:      KindValidation,
	ErrDuplicate:       KindValidation,
	ErrInFlight:        KindValidation,
	ErrMutationPending: KindValidation,
	ErrNotLoaded:       KindValidation,
	ErrExhausted:       KindValidation,
	ErrItemNotFound:    KindValidation,
	ErrItemUnconfirmed: KindValidation,
	ErrUnsupported:     KindValidation,
	ErrViewNotFound:    KindValidation,

	ErrNotFound:      KindRemote,
	ErrPermission:    KindRemote,
	ErrDatabase:      KindRemote,
	ErrConstraint:    KindRemote,
	ErrRemote:        KindRemote,
	ErrRemoteTimeout: KindRemote,
	ErrRateLimited:   KindRemote,

	ErrStale:    KindStale,
	ErrReleased: KindStale,
}

// KindOf returns the error kind for a code.
func KindOf(code ErrorCode) ErrorKind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	return KindInternal
}

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind derived from the code.
func (e *AppError) Kind() ErrorKind {
	return KindOf(e.Code)
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Remote wraps a gateway failure. An AppError already carrying a remote-kind
// code keeps its code.
func Remote(message string, err error) *AppError {
	if appErr, ok := As(err); ok && appErr.Kind() == KindRemote {
		return Wrap(appErr.Code, message, err)
	}
	return Wrap(ErrRemote, message, err)
}

// As returns the first AppError in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsKind checks if an error belongs to a kind. Errors that are not AppErrors
// are internal.
func IsKind(err error, kind ErrorKind) bool {
	if appErr, ok := As(err); ok {
		return appErr.Kind() == kind
	}
	return err != nil && kind == KindInternal
}
