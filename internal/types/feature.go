package types

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/samber/lo"
)

// FeatureType determines how access to a feature is gated:
//
//   - boolean features are on/off switches with no usage tracking
//   - quota features cap cumulative usage per billing period
//   - rate features cap usage within a fixed time window
//   - usage features are always allowed and metered for billing
type FeatureType string

const (
	FeatureTypeBoolean FeatureType = "boolean"
	FeatureTypeQuota   FeatureType = "quota"
	FeatureTypeRate    FeatureType = "rate"
	FeatureTypeUsage   FeatureType = "usage"
)

func (f FeatureType) String() string {
	return string(f)
}

func (f FeatureType) Validate() error {
	allowed := []FeatureType{
		FeatureTypeBoolean,
		FeatureTypeQuota,
		FeatureTypeRate,
		FeatureTypeUsage,
	}
	if !lo.Contains(allowed, f) {
		return ierr.NewError("invalid feature type").
			WithHint("Invalid feature type").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"type":    f,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PricingModel determines how a quantity of usage converts to a charge.
type PricingModel string

const (
	PRICING_MODEL_FLAT    PricingModel = "flat"
	PRICING_MODEL_TIERED  PricingModel = "tiered"
	PRICING_MODEL_VOLUME  PricingModel = "volume"
	PRICING_MODEL_PACKAGE PricingModel = "package"
)

func (p PricingModel) String() string {
	return string(p)
}

func (p PricingModel) Validate() error {
	allowed := []PricingModel{
		PRICING_MODEL_FLAT,
		PRICING_MODEL_TIERED,
		PRICING_MODEL_VOLUME,
		PRICING_MODEL_PACKAGE,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid pricing model").
			WithHint("Invalid pricing model").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"model":   p,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
