package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	perm := Permanent("no assistant for tenant %s", "shop")
	retry := Retryable("rate limited")

	if !IsPermanent(perm) || IsRetryable(perm) {
		t.Error("Permanent misclassified")
	}
	if !IsRetryable(retry) || IsPermanent(retry) {
		t.Error("Retryable misclassified")
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("mediation failed: %w", Retryable("run timed out"))
	if !IsRetryable(wrapped) {
		t.Error("wrapped retryable not detected")
	}
	if IsPermanent(wrapped) {
		t.Error("wrapped retryable detected as permanent")
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Permanent("config: %w", cause)
	if !errors.Is(err, cause) {
		t.Error("cause lost through Permanent wrapper")
	}
}

func TestClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{Permanent("x"), "permanent"},
		{Retryable("x"), "retryable"},
		{errors.New("x"), "unknown"},
	}
	for _, tt := range tests {
		if got := Class(tt.err); got != tt.want {
			t.Errorf("Class(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
