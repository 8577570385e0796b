package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures that reach the tool-call boundary.
type Kind string

const (
	// InvalidArgument marks malformed caller input. Not retryable.
	InvalidArgument Kind = "INVALID_ARGUMENT"
	// CollaboratorUnavailable marks a missing OCR engine, capture backend or similar.
	CollaboratorUnavailable Kind = "COLLABORATOR_UNAVAILABLE"
)

// Error carries a Kind, the failing operation and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Invalid builds an InvalidArgument error.
func Invalid(op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    InvalidArgument,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Unavailable builds a CollaboratorUnavailable error wrapping cause.
func Unavailable(op, message string, cause error) *Error {
	return &Error{
		Kind:    CollaboratorUnavailable,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
