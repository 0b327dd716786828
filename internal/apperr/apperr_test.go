package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := Transient("GetQuote", "005930", errors.New("timeout"))
	wrapped := fmt.Errorf("refresh: %w", base)

	if KindOf(wrapped) != KindTransient {
		t.Fatalf("expected transient, got %s", KindOf(wrapped))
	}
	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through fmt.Errorf wrapping")
	}
	if IsValidation(wrapped) {
		t.Error("transient error reported as validation")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("plain error should be unknown kind")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("nil should be unknown kind")
	}
}

func TestError_Message(t *testing.T) {
	err := Validationf("Close", "000660", "qty %d exceeds remaining %d", 60, 50)
	want := "Close [000660]: validation: qty 60 exceeds remaining 50"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !IsDisabled(Disabled("Tick")) {
		t.Error("Disabled helper should produce disabled kind")
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{500, KindTransient},
		{503, KindTransient},
		{429, KindTransient},
		{409, KindDuplicate},
		{400, KindPermanent},
		{404, KindPermanent},
	}
	for _, tt := range tests {
		if got := FromStatus("op", "", tt.status, "").Kind; got != tt.want {
			t.Errorf("status %d: got %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestFromTransport(t *testing.T) {
	if FromTransport("op", "", context.Canceled).Kind != KindPermanent {
		t.Error("caller cancellation should not be retried")
	}
	if FromTransport("op", "", context.DeadlineExceeded).Kind != KindTransient {
		t.Error("deadline should be transient")
	}
}
