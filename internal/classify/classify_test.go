package classify

import (
	"context"
	"errors"
	"testing"

	usenetstreamerrors "github.com/javi11/usenetstream/internal/errors"
	"github.com/javi11/usenetstream/internal/nntp"
)

func TestClassifyCancelled(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{})
	got := c.Classify(context.Canceled)
	if got.Kind != string(Cancelled) || got.Retryable {
		t.Fatalf("got %+v", got)
	}
}

func TestClassifyAuthFailed(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{})
	got := c.Classify(&nntp.AuthError{Code: 481, Message: "bad credentials"})
	if got.Kind != string(AuthFailed) {
		t.Fatalf("got %+v", got)
	}
}

func TestCircuitTripsAfterThreshold(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{FailureThreshold: 3})
	genericErr := errors.New("boom")

	for i := 0; i < 2; i++ {
		c.RecordOutcome(1, genericErr)
		if !c.Available(1) {
			t.Fatalf("circuit tripped too early at failure %d", i+1)
		}
	}
	c.RecordOutcome(1, genericErr)
	if c.Available(1) {
		t.Fatalf("expected circuit to be open after 3 consecutive failures")
	}
}

func TestCircuitResetsOnSuccess(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{FailureThreshold: 2})
	c.RecordOutcome(2, errors.New("boom"))
	c.RecordOutcome(2, nil)
	c.RecordOutcome(2, errors.New("boom"))
	if !c.Available(2) {
		t.Fatalf("expected circuit to stay closed after a success reset the streak")
	}
}

func TestClassifyNonRetryableIsFatal(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{})
	got := c.Classify(usenetstreamerrors.WrapNonRetryable(errors.New("no =ybegin/=yend markers")))
	if got.Kind != string(Fatal) || got.Retryable {
		t.Fatalf("got %+v", got)
	}
}

func TestAuthFailureOpensCircuitImmediately(t *testing.T) {
	t.Parallel()

	c := New(CircuitConfig{})
	c.RecordOutcome(3, &nntp.AuthError{Code: 482, Message: "denied"})
	if c.Available(3) {
		t.Fatalf("expected a single auth failure to trip the circuit")
	}
}
