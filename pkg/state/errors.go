package state

import (
	"errors"
	"fmt"
)

// ErrorKind classifies state engine failures.
type ErrorKind string

const (
	// KindNotFound indicates an unknown resource or checkpoint.
	KindNotFound ErrorKind = "not_found"

	// KindStorageUnavailable indicates the backing store is missing, corrupt or locked.
	KindStorageUnavailable ErrorKind = "storage_unavailable"

	// KindInvalidCheckpoint indicates a checkpoint snapshot that cannot be decoded.
	// It is not retryable.
	KindInvalidCheckpoint ErrorKind = "invalid_checkpoint"

	// KindCycleDetected indicates dependency edges that do not form a DAG.
	KindCycleDetected ErrorKind = "cycle_detected"

	// KindValidation indicates a malformed resource.
	KindValidation ErrorKind = "validation"

	// KindInvalidTransition indicates a forbidden status change, such as leaving removed.
	KindInvalidTransition ErrorKind = "invalid_transition"

	// KindPolicyDenied indicates a rollback rejected by the plan guard.
	KindPolicyDenied ErrorKind = "policy_denied"
)

// StateError represents a classified state engine error with context.
type StateError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource or checkpoint ID involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *StateError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StateError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StateError of the same kind.
// A target with a Code must also match the code.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrNotFound           = &StateError{Kind: KindNotFound, Message: "not found"}
	ErrStorageUnavailable = &StateError{Kind: KindStorageUnavailable, Message: "storage unavailable"}
	ErrInvalidCheckpoint  = &StateError{Kind: KindInvalidCheckpoint, Message: "invalid checkpoint"}
	ErrCycleDetected      = &StateError{Kind: KindCycleDetected, Message: "dependency cycle detected"}
	ErrValidation         = &StateError{Kind: KindValidation, Message: "validation failed"}
	ErrInvalidTransition  = &StateError{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrPolicyDenied       = &StateError{Kind: KindPolicyDenied, Message: "denied by policy"}
)

func newError(kind ErrorKind, code, message string, err error) *StateError {
	return &StateError{Kind: kind, Code: code, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error for the given resource or checkpoint ID.
func NewNotFoundError(what, id string) *StateError {
	return newError(KindNotFound, ErrCodeNotFound, what+" not found", nil).WithResource(id)
}

// NewStorageError creates a storage-unavailable error.
func NewStorageError(message string, err error) *StateError {
	return newError(KindStorageUnavailable, ErrCodeStorage, message, err)
}

// NewInvalidCheckpointError creates an invalid-checkpoint error.
func NewInvalidCheckpointError(id string, err error) *StateError {
	return newError(KindInvalidCheckpoint, ErrCodeCorruptSnapshot, "checkpoint snapshot cannot be decoded", err).
		WithResource(id)
}

// NewCycleError creates a cycle error carrying the offending path.
func NewCycleError(path []string) *StateError {
	return newError(KindCycleDetected, ErrCodeCycle, "dependency cycle detected: "+FormatCycle(path), nil).
		WithDetail("cycle", path)
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *StateError {
	return newError(KindValidation, ErrCodeValidation, message, err)
}

// NewTransitionError creates an invalid-transition error.
func NewTransitionError(id string, from, to Status) *StateError {
	return newError(KindInvalidTransition, ErrCodeTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to), nil).
		WithResource(id).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

// NewPolicyDeniedError creates a policy-denied error from a verdict.
func NewPolicyDeniedError(verdict *PolicyVerdict) *StateError {
	e := newError(KindPolicyDenied, ErrCodePolicy, "rollback denied by policy", nil)
	if verdict != nil {
		e.WithDetail("violations", verdict.Violations)
		if n := len(verdict.Violations); n > 0 {
			e.Message = fmt.Sprintf("rollback denied by policy: %s", verdict.Violations[0].Message)
			if n > 1 {
				e.Message += fmt.Sprintf(" (and %d more)", n-1)
			}
		}
	}
	return e
}

// WithResource adds resource context to an error.
func (e *StateError) WithResource(id string) *StateError {
	e.Resource = id
	return e
}

// WithOperation adds operation context to an error.
func (e *StateError) WithOperation(operation string) *StateError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *StateError) WithCode(code string) *StateError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *StateError) WithDetail(key string, value any) *StateError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first StateError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *StateError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsStorageUnavailable returns true if the store could not be used.
func IsStorageUnavailable(err error) bool { return KindOf(err) == KindStorageUnavailable }

// IsInvalidCheckpoint returns true if a checkpoint snapshot failed to decode.
func IsInvalidCheckpoint(err error) bool { return KindOf(err) == KindInvalidCheckpoint }

// IsCycle returns true if the error reports a dependency cycle.
func IsCycle(err error) bool { return KindOf(err) == KindCycleDetected }

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsInvalidTransition returns true if the error is a forbidden status change.
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }

// IsPolicyDenied returns true if a plan guard rejected the operation.
func IsPolicyDenied(err error) bool { return KindOf(err) == KindPolicyDenied }

// Common error codes.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeStorage         = "STORAGE_UNAVAILABLE"
	ErrCodeCorruptSnapshot = "CORRUPT_SNAPSHOT"
	ErrCodeCycle           = "DEPENDENCY_CYCLE"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeSelfDependency  = "SELF_DEPENDENCY"
	ErrCodeTransition      = "INVALID_TRANSITION"
	ErrCodePolicy          = "POLICY_DENIED"
	ErrCodeRecovered       = "STORAGE_RECOVERED"
)
