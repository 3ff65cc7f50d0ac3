package state

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestStateErrorIs(t *testing.T) {
	err := NewNotFoundError("resource", "web")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected NotFound to match ErrNotFound")
	}
	if errors.Is(err, ErrStorageUnavailable) {
		t.Error("expected NotFound not to match ErrStorageUnavailable")
	}

	wrapped := fmt.Errorf("loading plan: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected wrapped error to match ErrNotFound")
	}
	if !IsNotFound(wrapped) {
		t.Error("expected IsNotFound through wrapping")
	}
}

func TestStateErrorIsWithCode(t *testing.T) {
	selfDep := NewValidationError("resource cannot depend on itself", nil).WithCode(ErrCodeSelfDependency)

	if !errors.Is(selfDep, ErrValidation) {
		t.Error("expected code-less sentinel to match any validation error")
	}
	target := &StateError{Kind: KindValidation, Code: ErrCodeSelfDependency}
	if !errors.Is(selfDep, target) {
		t.Error("expected matching code to match")
	}
	if errors.Is(NewValidationError("other", nil), target) {
		t.Error("expected different code not to match")
	}
}

func TestStateErrorMessageAndUnwrap(t *testing.T) {
	err := NewStorageError("failed to read", io.ErrUnexpectedEOF).
		WithResource("state.db").
		WithOperation("open")

	msg := err.Error()
	for _, want := range []string{"[storage_unavailable]", "failed to read", "resource=state.db", "operation=open", "unexpected EOF"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestCycleErrorDetails(t *testing.T) {
	err := NewCycleError([]string{"a", "b", "a"})

	if !IsCycle(err) {
		t.Fatalf("expected cycle kind, got %v", KindOf(err))
	}
	if !strings.Contains(err.Error(), "a -> b -> a") {
		t.Errorf("expected formatted cycle in %q", err.Error())
	}
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatal("expected StateError")
	}
	if _, ok := se.Details["cycle"]; !ok {
		t.Error("expected cycle detail")
	}
}

func TestPolicyDeniedError(t *testing.T) {
	verdict := &PolicyVerdict{
		Allowed: false,
		Violations: []PolicyViolation{
			{Policy: "protected-resources", ResourceID: "db", Message: "db is protected", Severity: "error"},
		},
	}
	err := NewPolicyDeniedError(verdict)

	if !IsPolicyDenied(err) {
		t.Fatalf("expected policy denied, got %v", KindOf(err))
	}
	if !strings.Contains(err.Error(), "db is protected") {
		t.Errorf("expected violation message in %q", err.Error())
	}
}

func TestKindOfPlainError(t *testing.T) {
	if kind := KindOf(errors.New("boom")); kind != "" {
		t.Errorf("expected empty kind, got %q", kind)
	}
	if kind := KindOf(nil); kind != "" {
		t.Errorf("expected empty kind for nil, got %q", kind)
	}
}
