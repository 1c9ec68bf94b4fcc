package entitlement

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// Entitlement associates a feature with a plan and carries the limits the
// plan grants. Quota, rate and pricing fields are meaningful only for the
// feature types that use them; they are ignored for boolean features.
type Entitlement struct {
	ID          string            `db:"id" json:"id"`
	PlanID      string            `db:"plan_id" json:"plan_id"`
	FeatureID   string            `db:"feature_id" json:"feature_id"`
	FeatureType types.FeatureType `db:"feature_type" json:"feature_type"`
	IsEnabled   bool              `db:"is_enabled" json:"is_enabled"`
	// Quota is the per-billing-period usage ceiling for quota features.
	Quota *int64 `db:"quota" json:"quota"`
	// OverageRate prices usage beyond the quota, the full quantity for
	// usage features, or one package for package pricing.
	OverageRate *decimal.Decimal `db:"overage_rate" json:"overage_rate"`
	// RateLimit and RateWindow bound rate features: RateLimit uses per
	// fixed RateWindow, reset lazily on the next check after the window
	// elapses.
	RateLimit  *int64         `db:"rate_limit" json:"rate_limit"`
	RateWindow *time.Duration `db:"rate_window" json:"rate_window"`
	// Tiers back tiered and volume pricing models.
	Tiers []types.PricingTier `db:"tiers" json:"tiers"`
	// PackageSize is the whole-package increment for package pricing.
	PackageSize *int64 `db:"package_size" json:"package_size"`
	types.BaseModel
}

func (e *Entitlement) TableName() string {
	return "entitlements"
}

func (e *Entitlement) Validate() error {
	if e.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("Please provide a valid plan ID").
			Mark(ierr.ErrValidation)
	}
	if e.FeatureID == "" {
		return ierr.NewError("feature_id is required").
			WithHint("Please provide a valid feature ID").
			Mark(ierr.ErrValidation)
	}
	if err := e.FeatureType.Validate(); err != nil {
		return err
	}

	switch e.FeatureType {
	case types.FeatureTypeQuota:
		if e.Quota != nil && *e.Quota < 0 {
			return ierr.NewError("quota must not be negative").
				WithHint("Quota must be zero or positive").
				WithReportableDetails(map[string]any{
					"quota": *e.Quota,
				}).
				Mark(ierr.ErrValidation)
		}
	case types.FeatureTypeRate:
		if e.RateLimit == nil || e.RateWindow == nil {
			return ierr.NewError("rate features require rate_limit and rate_window").
				WithHint("Please provide a rate limit and window for rate features").
				Mark(ierr.ErrValidation)
		}
		if *e.RateWindow <= 0 {
			return ierr.NewError("rate_window must be positive").
				WithHint("Rate window must be a positive duration").
				Mark(ierr.ErrValidation)
		}
	}

	if e.OverageRate != nil && e.OverageRate.IsNegative() {
		return ierr.NewError("overage_rate must not be negative").
			WithHint("Overage rate must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if e.PackageSize != nil && *e.PackageSize <= 0 {
		return ierr.NewError("package_size must be positive").
			WithHint("Package size must be a positive integer").
			Mark(ierr.ErrValidation)
	}

	return nil
}
