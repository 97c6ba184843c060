package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy from the error handling design: every
// failure the runtime produces is classified into exactly one of these,
// never inspected by matching on a stringified message in the hot path.
type ErrorKind string

const (
	KindRateLimited           ErrorKind = "rate_limited"
	KindTimeout               ErrorKind = "timeout"
	KindEmptyOutput           ErrorKind = "empty_output"
	KindTransientUnavailable  ErrorKind = "transient_unavailable"
	KindValidationFailure     ErrorKind = "validation_failure"
	KindCapacityUnavailable   ErrorKind = "capacity_unavailable"
	KindWorkflowOwnedByOther  ErrorKind = "workflow_owned_by_other"
	KindCancelled             ErrorKind = "cancelled"
	KindInternal              ErrorKind = "internal_error"
)

// Retryable reports whether the error handling design treats this kind as
// retryable at all. rate_limited is retryable only against its own,
// larger budget — callers that need that distinction use KindRateLimited
// directly rather than this boolean.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindEmptyOutput, KindTransientUnavailable:
		return true
	default:
		return false
	}
}

// Standard sentinel errors for comparison using errors.Is().
var (
	ErrRateLimited          = errors.New("rate limited")
	ErrTimeout              = errors.New("operation timeout")
	ErrEmptyOutput          = errors.New("empty output")
	ErrTransientUnavailable = errors.New("transient unavailable")
	ErrValidationFailure    = errors.New("validation failure")
	ErrCapacityUnavailable  = errors.New("capacity unavailable")
	ErrWorkflowOwnedByOther = errors.New("workflow owned by other instance")
	ErrCancelled            = errors.New("cancelled")
	ErrInternal             = errors.New("internal error")

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	ErrAlreadyStarted    = errors.New("already started")
	ErrNotInitialized    = errors.New("not initialized")
	ErrAlreadyRegistered = errors.New("already registered")

	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrRecordNotFound is returned by KeyValueStore-backed collaborators
	// (ownership records, coordinator registrations) for a missing key.
	ErrRecordNotFound = errors.New("record not found")

	// ErrCircuitBreakerOpen is returned by resilience.CircuitBreaker.Execute
	// while the circuit is open; classified as transient_unavailable.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrContextCanceled mirrors context.Canceled for callers that want to
	// compare against a core sentinel rather than the stdlib one directly.
	ErrContextCanceled = errors.New("context canceled")
)

// kindSentinels maps every closed ErrorKind to its sentinel so Classify and
// errors.Is agree with each other by construction.
var kindSentinels = map[ErrorKind]error{
	KindRateLimited:          ErrRateLimited,
	KindTimeout:              ErrTimeout,
	KindEmptyOutput:          ErrEmptyOutput,
	KindTransientUnavailable: ErrTransientUnavailable,
	KindValidationFailure:    ErrValidationFailure,
	KindCapacityUnavailable:  ErrCapacityUnavailable,
	KindWorkflowOwnedByOther: ErrWorkflowOwnedByOther,
	KindCancelled:            ErrCancelled,
	KindInternal:             ErrInternal,
}

// FrameworkError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type FrameworkError struct {
	Op      string    // Operation that failed (e.g., "ledger.tryReserve")
	Kind    ErrorKind // Closed taxonomy kind
	ID      string    // Optional ID of the entity involved (reservation, workflow, run)
	Message string    // Human-readable message
	Err     error     // Underlying error for wrapping
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a FrameworkError for a given op/kind, wrapping
// the kind's sentinel so errors.Is(err, core.ErrRateLimited) etc. works
// without the caller constructing the sentinel themselves.
func NewFrameworkError(op string, kind ErrorKind, err error) *FrameworkError {
	wrapped := err
	if wrapped == nil {
		wrapped = kindSentinels[kind]
	}
	return &FrameworkError{
		Op:   op,
		Kind: kind,
		Err:  wrapped,
	}
}

// Classify maps an arbitrary error to its ErrorKind. It first checks for a
// *FrameworkError (authoritative), then falls back to errors.Is against the
// closed sentinel set, and finally to KindInternal. This is the single
// place string-matching would otherwise have crept in.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return KindTransientUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCanceled) {
		return KindCancelled
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err's classified kind is retryable at all
// (rate_limited included — callers needing the distinct, larger rate-limit
// budget should classify explicitly and check KindRateLimited).
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// IsNotFound reports a "not found" condition from a KeyValueStore-backed
// collaborator (ownership records, coordinator registrations).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsConfigurationError reports whether err represents a configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsStateError reports whether err represents an invalid state transition.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrAlreadyRegistered)
}
