package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&ValidationError{Field: "x", Reason: "missing"}, CodeValidationFailed},
		{&NotFoundError{ConfirmationID: "c-1"}, CodeConfirmationNotFound},
		{&AlreadyRespondedError{ConfirmationID: "c-1", Status: "rejected"}, CodeConfirmationAlreadyResponded},
		{&ExecutionStateError{ConfirmationID: "c-1", Status: "pending"}, CodeConfirmationExecutionFailed},
		{&IllegalTransitionError{ConfirmationID: "c-1", From: "pending", To: "executed"}, CodeIllegalTransition},
		{&StoreUnavailableError{Op: "save", Err: errors.New("down")}, CodeStoreUnavailable},
		{&ReauthRequiredError{Service: "gmail", Reason: "expired"}, CodeReauthRequired},
		{&PhaseError{Phase: "readiness", Err: errors.New("x")}, CodePhaseEvaluationFailed},
		{&IterationLimitError{SessionID: "s", Iterations: 10}, CodeIterationLimitExceeded},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.code {
			t.Errorf("CodeOf(%T) = %s, want %s", tc.err, got, tc.code)
		}
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", &NotFoundError{ConfirmationID: "c-1"})
	if CodeOf(err) != CodeConfirmationNotFound {
		t.Fatal("CodeOf must unwrap")
	}
	if !IsNotFound(err) {
		t.Fatal("IsNotFound must unwrap")
	}
}

func TestIsReauthRequired(t *testing.T) {
	err := fmt.Errorf("agent: %w", &ReauthRequiredError{Service: "gmail", Reason: "token expired"})
	reason, ok := IsReauthRequired(err)
	if !ok || reason != "token expired" {
		t.Fatalf("IsReauthRequired = %q, %v", reason, ok)
	}
	if _, ok := IsReauthRequired(errors.New("other")); ok {
		t.Fatal("plain errors are not reauth")
	}
}

func TestUnwrapChains(t *testing.T) {
	inner := errors.New("connection refused")
	if !errors.Is(&StoreUnavailableError{Op: "save", Err: inner}, inner) {
		t.Fatal("StoreUnavailableError must unwrap")
	}
	if !errors.Is(&PhaseError{Phase: "action", Err: inner}, inner) {
		t.Fatal("PhaseError must unwrap")
	}
}
