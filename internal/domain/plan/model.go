package plan

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is a billable offering. A plan is immutable once an active
// subscription references one of its costs; repositories reject deletion
// while such a reference exists.
type Plan struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	// IsFeatureBased marks plans whose access is gated through
	// entitlements rather than the subscription alone.
	IsFeatureBased bool `db:"is_feature_based" json:"is_feature_based"`
	// GracePeriodDays is how long a past-due subscription stays usable
	// awaiting payment recovery. Zero means failed renewals expire
	// immediately.
	GracePeriodDays int `db:"grace_period_days" json:"grace_period_days"`
	// RetryStrategy is applied to failed charges against this plan.
	// RetryStrategyManual disables automatic re-attempts.
	RetryStrategy types.RetryStrategy `db:"retry_strategy" json:"retry_strategy"`
	types.BaseModel
}

func (p *Plan) TableName() string {
	return "plans"
}

func (p *Plan) Validate() error {
	if p.Name == "" {
		return ierr.NewError("name is required").
			WithHint("Please provide a plan name").
			Mark(ierr.ErrValidation)
	}
	if p.GracePeriodDays < 0 {
		return ierr.NewError("grace_period_days must not be negative").
			WithHint("Grace period days must be zero or positive").
			WithReportableDetails(map[string]any{
				"grace_period_days": p.GracePeriodDays,
			}).
			Mark(ierr.ErrValidation)
	}
	if err := p.RetryStrategy.Validate(); err != nil {
		return err
	}
	return nil
}

// PlanCost is one billing interval offered by a plan, e.g. monthly vs
// annual. A subscription binds to exactly one cost at creation and does
// not migrate automatically.
type PlanCost struct {
	ID     string `db:"id" json:"id"`
	PlanID string `db:"plan_id" json:"plan_id"`
	// RecurrencePeriod times RecurrenceUnit defines the billing interval.
	RecurrencePeriod int                  `db:"recurrence_period" json:"recurrence_period"`
	RecurrenceUnit   types.RecurrenceUnit `db:"recurrence_unit" json:"recurrence_unit"`
	Amount           decimal.Decimal      `db:"amount" json:"amount"`
	types.BaseModel
}

func (c *PlanCost) TableName() string {
	return "plan_costs"
}

func (c *PlanCost) Validate() error {
	if c.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("Please provide a valid plan ID").
			Mark(ierr.ErrValidation)
	}
	if c.RecurrencePeriod <= 0 {
		return ierr.NewError("recurrence_period must be positive").
			WithHint("Recurrence period must be a positive integer").
			WithReportableDetails(map[string]any{
				"recurrence_period": c.RecurrencePeriod,
			}).
			Mark(ierr.ErrValidation)
	}
	if err := c.RecurrenceUnit.Validate(); err != nil {
		return err
	}
	if c.Amount.IsNegative() {
		return ierr.NewError("amount must not be negative").
			WithHint("Plan cost amount must be zero or positive").
			WithReportableDetails(map[string]any{
				"amount": c.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NextBillingDate returns the due timestamp one recurrence interval after
// from.
func (c *PlanCost) NextBillingDate(from time.Time) (time.Time, error) {
	return types.NextBillingDate(from, c.RecurrencePeriod, c.RecurrenceUnit)
}
