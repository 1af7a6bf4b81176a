package errors

import (
	"errors"
	"testing"
)

func TestIsNonRetryableWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := WrapNonRetryable(cause)

	if !IsNonRetryable(wrapped) {
		t.Fatalf("expected WrapNonRetryable's result to be non-retryable")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to see through the wrapper to its cause")
	}
}

func TestWrapNonRetryableNilIsNil(t *testing.T) {
	if WrapNonRetryable(nil) != nil {
		t.Fatalf("expected WrapNonRetryable(nil) to return nil")
	}
}

func TestIsNonRetryableFalseForOrdinaryError(t *testing.T) {
	if IsNonRetryable(errors.New("ordinary")) {
		t.Fatalf("expected an ordinary error to not be non-retryable")
	}
}
