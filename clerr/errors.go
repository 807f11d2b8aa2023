// Package clerr defines the error kinds shared across clusterlib's
// packages, following the error-handling design: most kinds are surfaced
// to the caller unchanged, PublishVersion is retryable, and
// InconsistentInternalState is fatal for the process path that hit it.
package clerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the closed set of clusterlib error categories.
type Kind string

const (
	// InvalidArguments covers malformed names/keys, out-of-range
	// sequences, and lock-mode mismatches.
	InvalidArguments Kind = "invalid_arguments"
	// InvalidMethod covers an operation that is not legal for a kind,
	// e.g. remove() on Root.
	InvalidMethod Kind = "invalid_method"
	// ObjectRemoved is returned when an accessed notifyable is REMOVED.
	ObjectRemoved Kind = "object_removed"
	// InconsistentInternalState is an invariant violation. Fatal for
	// the process path; callers should treat the factory as unusable.
	InconsistentInternalState Kind = "inconsistent_internal_state"
	// PublishVersion is an optimistic-concurrency conflict on
	// publish(). Recoverable: re-read and retry.
	PublishVersion Kind = "publish_version"
	// SessionExpired is raised when the backing store session is
	// lost. Fatal for the client session.
	SessionExpired Kind = "session_expired"
	// OperationCancelled is raised during shutdown or after a
	// cancellable wait observes the end event.
	OperationCancelled Kind = "operation_cancelled"
	// SystemFailure covers unexpected failures of an OS-level call
	// used by lock node naming (hostname, pid).
	SystemFailure Kind = "system_failure"
)

// Error is the concrete error type clusterlib returns. It always carries
// a Kind so callers can switch on it with errors.As, and optionally wraps
// a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, clerr.ObjectRemoved) style checks by matching
// Kind when the target is itself a *Error carrying just a Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel values for use with errors.Is when only the kind matters.
var (
	ErrInvalidArguments          = &Error{Kind: InvalidArguments}
	ErrInvalidMethod             = &Error{Kind: InvalidMethod}
	ErrObjectRemoved             = &Error{Kind: ObjectRemoved}
	ErrInconsistentInternalState = &Error{Kind: InconsistentInternalState}
	ErrPublishVersion            = &Error{Kind: PublishVersion}
	ErrSessionExpired            = &Error{Kind: SessionExpired}
	ErrOperationCancelled        = &Error{Kind: OperationCancelled}
	ErrSystemFailure             = &Error{Kind: SystemFailure}
)
