// Package progerr defines the error taxonomy shared by the execution core.
package progerr

import (
	"errors"
	"fmt"
)

// Stable error codes carried by every core error.
const (
	CodeMaterialization    = "MATERIALIZATION_ERROR"
	CodeSpawn              = "SPAWN_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeCancelled          = "CANCELLED"
	CodeNonZeroExit        = "NON_ZERO_EXIT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeDependency         = "DEPENDENCY_ERROR"
	CodeInteractionTimeout = "UI_INTERACTION_TIMEOUT"
	CodeNotFound           = "NOT_FOUND"
)

// Error is a core error with a stable code, an optional node id and a
// retryability flag the workflow engine consults for its retry policy.
type Error struct {
	code     string
	message  string
	nodeID   string
	canRetry bool
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the stable error code
func (e *Error) Code() string { return e.code }

// NodeID returns the offending node id, if any
func (e *Error) NodeID() string { return e.nodeID }

// CanRetry reports whether the failure is eligible for retry
func (e *Error) CanRetry() bool { return e.canRetry }

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error { return e.cause }

// WithNode returns a copy of the error attributed to a workflow node
func (e *Error) WithNode(nodeID string) *Error {
	clone := *e
	clone.nodeID = nodeID
	return &clone
}

// Materialization reports a sandbox materialization failure
func Materialization(msg string, cause error) *Error {
	return &Error{code: CodeMaterialization, message: msg, cause: cause}
}

// Spawn reports a failure to start the child process
func Spawn(msg string, cause error) *Error {
	return &Error{code: CodeSpawn, message: msg, cause: cause}
}

// Timeout reports a deadline expiry
func Timeout(msg string) *Error {
	return &Error{code: CodeTimeout, message: msg, canRetry: true}
}

// Cancelled reports an explicit stop or workflow cancel
func Cancelled(msg string) *Error {
	return &Error{code: CodeCancelled, message: msg}
}

// NonZeroExit reports a child process exiting with a non-zero code
func NonZeroExit(exitCode int) *Error {
	return &Error{
		code:     CodeNonZeroExit,
		message:  fmt.Sprintf("process exited with code %d", exitCode),
		canRetry: true,
	}
}

// Validation reports a structural workflow or mapping defect
func Validation(msg string) *Error {
	return &Error{code: CodeValidation, message: msg}
}

// Dependency reports a required input missing at dispatch
func Dependency(msg string) *Error {
	return &Error{code: CodeDependency, message: msg}
}

// InteractionTimeout reports a UI interaction expiring unanswered
func InteractionTimeout(interactionID string) *Error {
	return &Error{
		code:    CodeInteractionTimeout,
		message: fmt.Sprintf("interaction %s timed out", interactionID),
	}
}

// NotFound reports a missing entity
func NotFound(entity, id string) *Error {
	return &Error{code: CodeNotFound, message: fmt.Sprintf("%s %s not found", entity, id)}
}

// CodeOf extracts the stable code from any error, or empty when it is not a
// core error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}

// IsRetryable reports whether the error is eligible for retry under the
// default policy.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.CanRetry()
	}
	return false
}
