package models

import (
	"fmt"
	"time"
)

// ValidationError represents a domain validation error.
type ValidationError struct {
	message string
}

// NewValidationError creates a new validation error.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		message: fmt.Sprintf(format, args...),
	}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return e.message
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// FailureKind classifies a dispatch failure.
type FailureKind string

const (
	// FailureTimeout means the agent did not produce output within its
	// per-call deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureProviderError means the backing analysis provider returned an
	// error.
	FailureProviderError FailureKind = "provider_error"
	// FailureInvalidOutput means the provider responded but the output did
	// not validate against the finding schema.
	FailureInvalidOutput FailureKind = "invalid_output"
)

// DispatchFailure is the error returned by the agent harness when a dispatch
// does not yield a valid finding. It is recovered locally through circuit
// breaker bookkeeping and weight renormalization and is never surfaced to
// the operator directly.
type DispatchFailure struct {
	Role  string
	Round int
	Kind  FailureKind
	Err   error
}

// Error implements the error interface.
func (e *DispatchFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch to %s failed in round %d (%s): %v", e.Role, e.Round, e.Kind, e.Err)
	}
	return fmt.Sprintf("dispatch to %s failed in round %d (%s)", e.Role, e.Round, e.Kind)
}

// Unwrap exposes the underlying cause.
func (e *DispatchFailure) Unwrap() error {
	return e.Err
}

// QuorumError signals that a round could not attempt a decision: too few
// agents responded or their combined static weight fell below the configured
// quorum fraction. The resolution driver treats it as a forced escalation.
type QuorumError struct {
	Round          int
	Responders     int
	CombinedWeight float64
	QuorumFraction float64
	MinResponders  int
}

// Error implements the error interface.
func (e *QuorumError) Error() string {
	return fmt.Sprintf(
		"insufficient quorum in round %d: %d responders with combined static weight %.2f (need >= %d responders and >= %.2f weight)",
		e.Round, e.Responders, e.CombinedWeight, e.MinResponders, e.QuorumFraction,
	)
}

// ActionExecutionError reports a failed or timed-out remediation action.
// Autonomous actions are never retried; this error always surfaces as an
// escalation.
type ActionExecutionError struct {
	IncidentID string
	Action     string
	Elapsed    time.Duration
	Err        error
}

// Error implements the error interface.
func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("remediation action %q failed for incident %s after %s: %v",
		e.Action, e.IncidentID, e.Elapsed.Round(time.Millisecond), e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}
