package cerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCode(t *testing.T) {
	err := NewError(NotFound, "agent state is not found", nil)
	if !IsCode(err, NotFound) {
		t.Error("expected IsCode to match the error's own code")
	}
	if IsCode(err, Internal) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, NotFound) {
		t.Error("IsCode matched nil")
	}

	wrapped := fmt.Errorf("loading: %w", err)
	if !IsCode(wrapped, NotFound) {
		t.Error("IsCode must see through wrapping")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewError(DataLoss, "corrupt", nil)); got != DataLoss {
		t.Errorf("CodeOf = %s, want data_loss", got)
	}
	if got := CodeOf(errors.New("plain")); got != Unknown {
		t.Errorf("CodeOf(plain) = %s, want unknown", got)
	}
}

func TestTransientCodes(t *testing.T) {
	transient := []Code{DeadlineExceeded, Unavailable, ResourceExhausted, Aborted}
	for _, c := range transient {
		if !c.Transient() {
			t.Errorf("%s should be transient", c)
		}
	}
	permanent := []Code{OK, Canceled, InvalidArgument, NotFound, FailedPrecondition, Unauthenticated, DataLoss, Internal}
	for _, c := range permanent {
		if c.Transient() {
			t.Errorf("%s should not be transient", c)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewError(Unavailable, "down", nil)) {
		t.Error("Unavailable error should be transient")
	}
	if IsTransient(NewError(InvalidArgument, "bad", nil)) {
		t.Error("InvalidArgument error should not be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("uncoded error should not be transient")
	}
}
