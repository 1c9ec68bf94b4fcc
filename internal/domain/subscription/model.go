package subscription

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// Subscription binds a customer to one plan cost and tracks its position
// in the billing state machine.
//
// Invariant: BillingNext is never nil while the status is active or
// past_due, and once active it is always at or after the last successful
// charge time.
type Subscription struct {
	ID         string `db:"id" json:"id"`
	CustomerID string `db:"customer_id" json:"customer_id"`
	PlanID     string `db:"plan_id" json:"plan_id"`
	PlanCostID string `db:"plan_cost_id" json:"plan_cost_id"`

	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	BillingStart time.Time `db:"billing_start" json:"billing_start"`
	// BillingNext is the next due timestamp.
	BillingNext *time.Time `db:"billing_next" json:"billing_next"`
	// GraceUntil is set while past_due: the deadline for payment recovery.
	GraceUntil  *time.Time `db:"grace_until" json:"grace_until"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at"`
	types.BaseModel
}

func (s *Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) Validate() error {
	if s.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Please provide a valid customer ID").
			Mark(ierr.ErrValidation)
	}
	if s.PlanCostID == "" {
		return ierr.NewError("plan_cost_id is required").
			WithHint("Please provide a valid plan cost ID").
			Mark(ierr.ErrValidation)
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	switch s.SubscriptionStatus {
	case types.SubscriptionStatusActive, types.SubscriptionStatusPastDue:
		if s.BillingNext == nil {
			return ierr.NewError("billing_next is required while active or past_due").
				WithHint("Active subscriptions must carry a next due timestamp").
				WithReportableDetails(map[string]any{
					"subscription_id": s.ID,
					"status":          s.SubscriptionStatus,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
