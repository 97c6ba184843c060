package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limited sentinel", ErrRateLimited, KindRateLimited},
		{"timeout sentinel", ErrTimeout, KindTimeout},
		{"wrapped rate limited", fmt.Errorf("call failed: %w", ErrRateLimited), KindRateLimited},
		{"framework error authoritative", NewFrameworkError("ledger.tryReserve", KindCapacityUnavailable, nil), KindCapacityUnavailable},
		{"unclassified error", errors.New("boom"), KindInternal},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited is retryable", ErrRateLimited, true},
		{"timeout is retryable", ErrTimeout, true},
		{"empty output is retryable", ErrEmptyOutput, true},
		{"transient unavailable is retryable", ErrTransientUnavailable, true},
		{"wrapped retryable error is retryable", fmt.Errorf("operation failed: %w", ErrTimeout), true},
		{"validation failure is not retryable", ErrValidationFailure, false},
		{"capacity unavailable is not retryable", ErrCapacityUnavailable, false},
		{"workflow owned by other is not retryable", ErrWorkflowOwnedByOther, false},
		{"cancelled is not retryable", ErrCancelled, false},
		{"custom error is not retryable (classifies internal)", errors.New("custom error"), false},
		{"nil error is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrRecordNotFound) {
		t.Error("ErrRecordNotFound should be detected as not-found")
	}
	wrapped := fmt.Errorf("loading ownership record: %w", ErrRecordNotFound)
	if !IsNotFound(wrapped) {
		t.Error("wrapped ErrRecordNotFound should be detected as not-found")
	}
	if IsNotFound(ErrTimeout) {
		t.Error("ErrTimeout should not be not-found")
	}
	if IsNotFound(nil) {
		t.Error("nil error should not be not-found")
	}
}

func TestIsConfigurationError(t *testing.T) {
	if !IsConfigurationError(ErrInvalidConfiguration) {
		t.Error("ErrInvalidConfiguration should be a configuration error")
	}
	if !IsConfigurationError(ErrMissingConfiguration) {
		t.Error("ErrMissingConfiguration should be a configuration error")
	}
	if IsConfigurationError(ErrTimeout) {
		t.Error("ErrTimeout should not be a configuration error")
	}
}

func TestIsStateError(t *testing.T) {
	if !IsStateError(ErrAlreadyStarted) {
		t.Error("ErrAlreadyStarted should be a state error")
	}
	if !IsStateError(ErrNotInitialized) {
		t.Error("ErrNotInitialized should be a state error")
	}
	if !IsStateError(ErrAlreadyRegistered) {
		t.Error("ErrAlreadyRegistered should be a state error")
	}
	if IsStateError(ErrInvalidConfiguration) {
		t.Error("ErrInvalidConfiguration should not be a state error")
	}
}

func TestFrameworkErrorUnwrap(t *testing.T) {
	fe := NewFrameworkError("subagent.run", KindTimeout, ErrTimeout)
	if !errors.Is(fe, ErrTimeout) {
		t.Error("errors.Is should see through FrameworkError.Unwrap")
	}
	if Classify(fe) != KindTimeout {
		t.Errorf("Classify(FrameworkError) = %v, want %v", Classify(fe), KindTimeout)
	}
}
