package retry

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// RetryAttempt is one entry in a record's audit trail.
type RetryAttempt struct {
	AttemptedAt time.Time `json:"attempted_at"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

const (
	AttemptOutcomeSucceeded = "succeeded"
	AttemptOutcomeFailed    = "failed"
)

// RetryRecord tracks recovery of one failed billing operation. It is the
// sole mutable record of recovery state for its subscription; the
// lifecycle consults it before re-attempting a charge so a scheduler
// sweep and a retry sweep can never double-bill.
type RetryRecord struct {
	ID string `db:"id" json:"id"`
	// Code is the short operator-facing reference used in the failed
	// report.
	Code           string               `db:"code" json:"code"`
	SubscriptionID string               `db:"subscription_id" json:"subscription_id"`
	CustomerID     string               `db:"customer_id" json:"customer_id"`
	Operation      types.RetryOperation `db:"operation" json:"operation"`
	Strategy       types.RetryStrategy  `db:"strategy" json:"strategy"`
	AttemptCount   int                  `db:"attempt_count" json:"attempt_count"`
	// NextAttemptAt is nil for manual and exhausted records.
	NextAttemptAt *time.Time        `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string            `db:"last_error" json:"last_error"`
	RetryStatus   types.RetryStatus `db:"retry_status" json:"retry_status"`
	Resolved      bool              `db:"resolved" json:"resolved"`
	// Amount and ReferenceID carry what refund re-attempts need: the
	// amount to credit and the original debit transaction.
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	ReferenceID string          `db:"reference_id" json:"reference_id"`
	Attempts    []RetryAttempt  `db:"attempts" json:"attempts"`
	types.BaseModel
}

func (r *RetryRecord) TableName() string {
	return "retry_records"
}

func (r *RetryRecord) Validate() error {
	if r.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation)
	}
	if err := r.Operation.Validate(); err != nil {
		return err
	}
	if err := r.Strategy.Validate(); err != nil {
		return err
	}
	return nil
}

// IsPending reports whether the record is waiting for an automatic
// re-attempt.
func (r *RetryRecord) IsPending() bool {
	return !r.Resolved && r.RetryStatus == types.RetryStatusScheduled && r.NextAttemptAt != nil
}

// RecordAttempt appends to the audit trail.
func (r *RetryRecord) RecordAttempt(at time.Time, outcome string, attemptErr error) {
	attempt := RetryAttempt{AttemptedAt: at, Outcome: outcome}
	if attemptErr != nil {
		attempt.Error = attemptErr.Error()
	}
	r.Attempts = append(r.Attempts, attempt)
}
