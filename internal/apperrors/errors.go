// Package apperrors defines the typed error taxonomy shared across the
// confirmation, executor and workflow services. Every user-visible
// error carries a stable machine code alongside its message.
package apperrors

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers.
const (
	CodeValidationFailed             = "VALIDATION_FAILED"
	CodeConfirmationNotFound         = "CONFIRMATION_NOT_FOUND"
	CodeConfirmationAlreadyResponded = "CONFIRMATION_ALREADY_RESPONDED"
	CodeConfirmationExecutionFailed  = "CONFIRMATION_EXECUTION_FAILED"
	CodeIllegalTransition            = "CONFIRMATION_ILLEGAL_TRANSITION"
	CodeStoreUnavailable             = "STORE_UNAVAILABLE"
	CodeReauthRequired               = "REAUTH_REQUIRED"
	CodePhaseEvaluationFailed        = "PHASE_EVALUATION_FAILED"
	CodeIterationLimitExceeded       = "ITERATION_LIMIT_EXCEEDED"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() string
}

// ValidationError marks malformed input. It fails fast and is never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", CodeValidationFailed, e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return CodeValidationFailed }

// NotFoundError reports a missing (or expired, hence invisible)
// confirmation.
type NotFoundError struct {
	ConfirmationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: confirmation %s not found", CodeConfirmationNotFound, e.ConfirmationID)
}

func (e *NotFoundError) Code() string { return CodeConfirmationNotFound }

// AlreadyRespondedError reports a respond call against a flow that is
// no longer pending.
type AlreadyRespondedError struct {
	ConfirmationID string
	Status         string
}

func (e *AlreadyRespondedError) Error() string {
	return fmt.Sprintf("%s: confirmation %s already responded (status %s)", CodeConfirmationAlreadyResponded, e.ConfirmationID, e.Status)
}

func (e *AlreadyRespondedError) Code() string { return CodeConfirmationAlreadyResponded }

// ExecutionStateError reports an execute call against a flow that is
// not in the confirmed state.
type ExecutionStateError struct {
	ConfirmationID string
	Status         string
}

func (e *ExecutionStateError) Error() string {
	return fmt.Sprintf("%s: confirmation %s cannot execute from status %s", CodeConfirmationExecutionFailed, e.ConfirmationID, e.Status)
}

func (e *ExecutionStateError) Code() string { return CodeConfirmationExecutionFailed }

// IllegalTransitionError identifies a state-machine transition outside
// the permitted set.
type IllegalTransitionError struct {
	ConfirmationID string
	From           string
	To             string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: confirmation %s cannot transition %s -> %s", CodeIllegalTransition, e.ConfirmationID, e.From, e.To)
}

func (e *IllegalTransitionError) Code() string { return CodeIllegalTransition }

// StoreUnavailableError wraps a durable-store failure. It is logged and
// the service degrades to cache-only operation; it is never fatal.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: durable store %s failed: %v", CodeStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Code() string { return CodeStoreUnavailable }

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// ReauthRequiredError signals that an agent needs fresh authorization
// before it can act on the user's behalf.
type ReauthRequiredError struct {
	Service string
	Reason  string
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("%s: %s requires re-authorization: %s", CodeReauthRequired, e.Service, e.Reason)
}

func (e *ReauthRequiredError) Code() string { return CodeReauthRequired }

// PhaseError wraps a fatal evaluator failure inside the workflow loop,
// identifying the phase, session and iteration it happened in.
type PhaseError struct {
	Phase     string
	SessionID string
	Iteration int
	Err       error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s phase failed for session %s at iteration %d: %v", CodePhaseEvaluationFailed, e.Phase, e.SessionID, e.Iteration, e.Err)
}

func (e *PhaseError) Code() string { return CodePhaseEvaluationFailed }

func (e *PhaseError) Unwrap() error { return e.Err }

// IterationLimitError terminates a workflow that reached its iteration
// ceiling. Narrative carries the full accumulated context so nothing is
// silently discarded.
type IterationLimitError struct {
	SessionID  string
	Iterations int
	Narrative  string
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("%s: workflow for session %s exceeded %d iterations", CodeIterationLimitExceeded, e.SessionID, e.Iterations)
}

func (e *IterationLimitError) Code() string { return CodeIterationLimitExceeded }

// CodeOf returns the stable code for err, or empty when err carries
// none.
func CodeOf(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAlreadyResponded reports whether err is an AlreadyRespondedError.
func IsAlreadyResponded(err error) bool {
	var target *AlreadyRespondedError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsReauthRequired reports whether err signals an authorization
// failure, extracting the reason when present.
func IsReauthRequired(err error) (string, bool) {
	var target *ReauthRequiredError
	if errors.As(err, &target) {
		return target.Reason, true
	}
	return "", false
}
