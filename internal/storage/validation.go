package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/autopay/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidPayment     = errors.New("invalid payment record")
	ErrInvalidJob         = errors.New("invalid scheduled job")
	ErrInvalidMessageItem = errors.New("invalid processed message")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validatePaymentRecord(rec *model.PaymentRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: payment record", ErrNilParameter)
	}
	if strings.TrimSpace(rec.Hash) == "" {
		return fmt.Errorf("%w: missing hash", ErrInvalidPayment)
	}
	if strings.TrimSpace(rec.Reference) == "" {
		return fmt.Errorf("%w: missing reference", ErrInvalidPayment)
	}
	if strings.TrimSpace(rec.ToAlias) == "" {
		return fmt.Errorf("%w: missing counterparty", ErrInvalidPayment)
	}
	if rec.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidPayment)
	}
	return nil
}

func validateJob(job *model.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidJob)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return nil
}

func validateProcessedMessage(rec *model.ProcessedMessage) error {
	if rec == nil {
		return fmt.Errorf("%w: processed message", ErrNilParameter)
	}
	if strings.TrimSpace(rec.MessageID) == "" {
		return fmt.Errorf("%w: missing message ID", ErrInvalidMessageItem)
	}
	return nil
}
