package types

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/samber/lo"
)

// RetryStrategy determines how a failed billing operation is re-attempted.
type RetryStrategy string

const (
	// RetryStrategyExponential doubles the delay after every attempt,
	// capped at a maximum interval and attempt count.
	RetryStrategyExponential RetryStrategy = "exponential"
	// RetryStrategyImmediate retries on the very next processing pass,
	// bounded by a small attempt count. Intended for urgent operations
	// such as refund completion.
	RetryStrategyImmediate RetryStrategy = "immediate"
	// RetryStrategyFixed retries at a constant interval.
	RetryStrategyFixed RetryStrategy = "fixed"
	// RetryStrategyManual never schedules automatically; the record is
	// flagged until an operator triggers a re-attempt.
	RetryStrategyManual RetryStrategy = "manual"
)

func (s RetryStrategy) String() string {
	return string(s)
}

func (s RetryStrategy) Validate() error {
	allowed := []RetryStrategy{
		RetryStrategyExponential,
		RetryStrategyImmediate,
		RetryStrategyFixed,
		RetryStrategyManual,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid retry strategy").
			WithHint("Invalid retry strategy").
			WithReportableDetails(map[string]any{
				"allowed":  allowed,
				"strategy": s,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RetryStatus is the recovery state of a single failed operation:
// scheduled -> attempting -> {resolved, scheduled, exhausted}.
type RetryStatus string

const (
	RetryStatusScheduled  RetryStatus = "scheduled"
	RetryStatusAttempting RetryStatus = "attempting"
	RetryStatusResolved   RetryStatus = "resolved"
	RetryStatusExhausted  RetryStatus = "exhausted"
)

func (s RetryStatus) String() string {
	return string(s)
}

// RetryOperation names the failed operation a retry record re-attempts.
type RetryOperation string

const (
	RetryOperationActivation RetryOperation = "activation"
	RetryOperationRenewal    RetryOperation = "renewal"
	RetryOperationRefund     RetryOperation = "refund"
)

func (o RetryOperation) Validate() error {
	allowed := []RetryOperation{
		RetryOperationActivation,
		RetryOperationRenewal,
		RetryOperationRefund,
	}
	if !lo.Contains(allowed, o) {
		return ierr.NewError("invalid retry operation").
			WithHint("Invalid retry operation").
			WithReportableDetails(map[string]any{
				"allowed":   allowed,
				"operation": o,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
