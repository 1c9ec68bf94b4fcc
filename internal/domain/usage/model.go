package usage

import (
	"time"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// FeatureUsage is the counter for one (subscription, feature) pair.
// Quota counters reset when the billing period advances; rate counters
// reset lazily once WindowStart falls a full window behind now.
type FeatureUsage struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	FeatureID      string `db:"feature_id" json:"feature_id"`
	Quantity       int64  `db:"quantity" json:"quantity"`
	// WindowStart anchors the current rate window.
	WindowStart time.Time `db:"window_start" json:"window_start"`
	LastResetAt time.Time `db:"last_reset_at" json:"last_reset_at"`
	types.BaseModel
}

func (u *FeatureUsage) TableName() string {
	return "feature_usage"
}

func (u *FeatureUsage) Validate() error {
	if u.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation)
	}
	if u.FeatureID == "" {
		return ierr.NewError("feature_id is required").
			WithHint("Please provide a valid feature ID").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Reset zeroes the counter and restarts the window at now.
func (u *FeatureUsage) Reset(now time.Time) {
	u.Quantity = 0
	u.WindowStart = now
	u.LastResetAt = now
}
