package toolops

import (
	"errors"
	"fmt"
)

// ErrorKind tags an Error with the taxonomy the lifecycle engine commits to:
// callers switch on Kind rather than matching error strings.
type ErrorKind string

const (
	// KindStorageUnavailable means the persistence layer could not complete
	// the request; retry with backoff, surface to the user after max_retries.
	KindStorageUnavailable ErrorKind = "storage_unavailable"

	// KindIllegalStateTransition means a caller attempted a transition the
	// state table forbids. Programmer error: logged, state unchanged.
	KindIllegalStateTransition ErrorKind = "illegal_state_transition"

	// KindConflictingOperation means a session already owns a non-terminal
	// operation; the new request is a polite refusal, not a crash.
	KindConflictingOperation ErrorKind = "conflicting_operation"

	// KindClassificationMalformed means the approval classifier's reply
	// didn't parse as the expected JSON shape.
	KindClassificationMalformed ErrorKind = "classification_malformed"

	// KindToolExecutionFailed wraps a tool body failure; Transient
	// distinguishes a retryable failure from a terminal one.
	KindToolExecutionFailed ErrorKind = "tool_execution_failed"

	// KindScheduleExpired means a monitoring schedule's deadline passed
	// before its condition fired.
	KindScheduleExpired ErrorKind = "schedule_expired"

	// KindUnknownTool means the registry has no row for the requested
	// tool_type.
	KindUnknownTool ErrorKind = "unknown_tool"
)

// Error is the tagged error type every toolops component returns. It wraps an
// optional underlying cause so errors.Is/As chains work through the stack.
type Error struct {
	Kind      ErrorKind
	Message   string
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, ErrKind(someKind)) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError builds a tagged error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewTransientError builds a tagged error marked retryable.
func NewTransientError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Transient: true}
}

// ErrKind builds a sentinel usable with errors.Is to test for a Kind without
// caring about Message/Cause, e.g. errors.Is(err, ErrKind(KindUnknownTool)).
func ErrKind(kind ErrorKind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
