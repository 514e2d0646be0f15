// Package apierr defines the typed error taxonomy shared by every
// component in the coordination substrate, so callers can use
// errors.Is/errors.As regardless of which package raised the error.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy named in the operations surface: each operation
// returns either a success payload or one of these.
type Kind string

const (
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	InvalidArgument  Kind = "invalid_argument"
	PermissionDenied Kind = "permission_denied"
	Timeout          Kind = "timeout"
	CapacityExceeded Kind = "capacity_exceeded"
	DependencyFailed Kind = "dependency_failed"
	Internal         Kind = "internal"
)

// Error wraps an underlying cause with a taxonomy Kind and the
// operation that raised it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apierr.NotFound) style checks work by
// comparing on Kind via a sentinel Error carrying only that Kind.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return string(k.kind) }

// sentinels usable with errors.Is(err, apierr.ErrNotFound)
var (
	ErrNotFound         error = &kindSentinel{NotFound}
	ErrConflict         error = &kindSentinel{Conflict}
	ErrInvalidArgument  error = &kindSentinel{InvalidArgument}
	ErrPermissionDenied error = &kindSentinel{PermissionDenied}
	ErrTimeout          error = &kindSentinel{Timeout}
	ErrCapacityExceeded error = &kindSentinel{CapacityExceeded}
	ErrDependencyFailed error = &kindSentinel{DependencyFailed}
	ErrInternal         error = &kindSentinel{Internal}
)

// New constructs a new *Error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a new *Error around an existing cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Of returns the Kind of err, or Internal if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
