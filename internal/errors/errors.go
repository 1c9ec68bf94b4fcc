package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for the billing engine. Services mark rich errors with
// one of these via the builder so callers can match with errors.Is.
var (
	ErrNotFound          = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists     = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict   = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation        = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation  = new(ErrCodeInvalidOperation, "invalid operation")
	ErrInsufficientFunds = new(ErrCodeInsufficientFunds, "insufficient funds")
	ErrOverRefund        = new(ErrCodeOverRefund, "refund exceeds refundable amount")
	ErrFeatureDisabled   = new(ErrCodeFeatureDisabled, "feature not available")
	ErrRetryExhausted    = new(ErrCodeRetryExhausted, "retry attempts exhausted")
	ErrDatabase          = new(ErrCodeDatabase, "database error")
	ErrSystem            = new(ErrCodeSystemError, "system error")
)

const (
	ErrCodeNotFound          = "not_found"
	ErrCodeAlreadyExists     = "already_exists"
	ErrCodeVersionConflict   = "version_conflict"
	ErrCodeValidation        = "validation_error"
	ErrCodeInvalidOperation  = "invalid_operation"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeOverRefund        = "over_refund"
	ErrCodeFeatureDisabled   = "feature_disabled"
	ErrCodeRetryExhausted    = "retry_exhausted"
	ErrCodeDatabase          = "database_error"
	ErrCodeSystemError       = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsInsufficientFunds checks if an error is an insufficient funds error
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsOverRefund checks if an error is an over refund error
func IsOverRefund(err error) bool {
	return errors.Is(err, ErrOverRefund)
}

// IsFeatureDisabled checks if an error is a feature disabled error
func IsFeatureDisabled(err error) bool {
	return errors.Is(err, ErrFeatureDisabled)
}

// IsRetryExhausted checks if an error is a retry exhausted error
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}
