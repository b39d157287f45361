package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrTagNotFound indicates that an explicitly requested tag does not
	// exist in the dataset and no default can be substituted
	ErrTagNotFound = errors.New("tag not found")

	// ErrRecordRead indicates that the underlying dataset store failed to
	// read a record
	ErrRecordRead = errors.New("record read failed")

	// ErrTransform indicates that a user transform failed or panicked
	ErrTransform = errors.New("transform failed")

	// ErrWriteConflict indicates that write exclusivity was violated.
	// With a correctly functioning write token this is unreachable and is
	// treated as a fatal internal invariant failure.
	ErrWriteConflict = errors.New("write conflict")

	// ErrAborted indicates that the run was terminated by a coordinated
	// abort broadcast
	ErrAborted = errors.New("run aborted")

	// ErrClosed indicates that an operation was attempted on a closed
	// dataset or worker group
	ErrClosed = errors.New("already closed")

	// ErrReadOnly indicates a write was attempted on a read-only dataset
	ErrReadOnly = errors.New("dataset is read-only")
)

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured engine error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsTagNotFound checks if an error is a tag resolution failure
func IsTagNotFound(err error) bool {
	return errors.Is(err, ErrTagNotFound)
}

// IsAborted checks if an error was caused by a run-wide abort
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsFatal reports whether an error class cannot be recovered per-task and
// must escalate to a run-wide abort regardless of any recovery handler.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTagNotFound) ||
		errors.Is(err, ErrRecordRead) ||
		errors.Is(err, ErrWriteConflict)
}
