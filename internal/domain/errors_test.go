package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsLockFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "lock failed", err: ErrLockFailed, want: true},
		{name: "wrapped lock failed", err: fmt.Errorf("short ship order-1: %w", ErrLockFailed), want: true},
		{name: "capture too large", err: ErrCaptureTooLarge, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLockFailed(tt.err); got != tt.want {
				t.Errorf("IsLockFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransitionErrorUnwrapsToInvalidTransition(t *testing.T) {
	var err error = &TransitionError{Machine: "inventory_unit", Event: "ship", From: "canceled"}

	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected errors.Is(err, ErrInvalidTransition)")
	}
	if !IsPrecondition(err) {
		t.Fatalf("transition error must be a precondition failure")
	}

	var te *TransitionError
	if !errors.As(fmt.Errorf("wrap: %w", err), &te) {
		t.Fatalf("expected errors.As to find TransitionError")
	}
	if te.From != "canceled" {
		t.Fatalf("unexpected from state: %s", te.From)
	}
}

func TestIsNotFound(t *testing.T) {
	for _, err := range []error{ErrOrderNotFound, ErrCartonNotFound, ErrPromotionCodeNotFound, ErrInventoryUnitNotFound} {
		if !IsNotFound(fmt.Errorf("lookup: %w", err)) {
			t.Fatalf("expected %v to be not found", err)
		}
	}
	if IsNotFound(ErrLockFailed) {
		t.Fatalf("lock failure is not a not-found error")
	}
}
