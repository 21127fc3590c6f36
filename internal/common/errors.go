// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Payment preparation errors.
	ErrDuplicatePayment    = errors.New("duplicate payment")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAmountTooHigh       = errors.New("amount exceeds configured maximum")
	ErrInsufficientBalance = errors.New("balance would drop below configured minimum")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrMissingCounterparty = errors.New("missing counterparty alias")

	// Payment API errors.
	ErrPaymentsUnauthenticated = errors.New("payment API is not authenticated")
	ErrUnsupportedAlias        = errors.New("alias type not supported by payment API")
	ErrUnsupportedOperation    = errors.New("operation not supported by payment API")

	// Matching errors.
	ErrSecurityCheckFailed = errors.New("message failed security checks")

	// Scheduler errors.
	ErrInvalidJobType  = errors.New("invalid job type")
	ErrCheckInProgress = errors.New("scheduler check already running")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// PaymentPhase tells which half of MakePayment an error came from.
type PaymentPhase string

// Payment phases.
const (
	// PhasePreparing failures happen before any payment is submitted.
	PhasePreparing PaymentPhase = "preparing"
	// PhaseProcessing failures happen after validation passed; the external
	// state may have changed and needs manual reconciliation.
	PhaseProcessing PaymentPhase = "processing"
)

// PaymentError wraps a payment failure with the phase it occurred in.
type PaymentError struct {
	Err   error
	Phase PaymentPhase
	Hash  string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s payment failed: %v", e.Phase, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPreparingError wraps err as a preparation failure.
func NewPreparingError(hash string, err error) error {
	return &PaymentError{Phase: PhasePreparing, Hash: hash, Err: err}
}

// NewProcessingError wraps err as a processing failure.
func NewProcessingError(hash string, err error) error {
	return &PaymentError{Phase: PhaseProcessing, Hash: hash, Err: err}
}

// PhaseOf returns the payment phase of err, or "" when it is not a payment error.
func PhaseOf(err error) PaymentPhase {
	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr.Phase
	}
	return ""
}

// IsDuplicate reports whether err is a duplicate payment rejection.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicatePayment)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
