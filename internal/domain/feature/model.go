package feature

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// Feature is a gateable or meterable capability. Code is the stable
// identifier request-serving code checks against.
type Feature struct {
	ID           string             `db:"id" json:"id"`
	Code         string             `db:"code" json:"code"`
	Name         string             `db:"name" json:"name"`
	Description  string             `db:"description" json:"description"`
	Type         types.FeatureType  `db:"type" json:"type"`
	PricingModel types.PricingModel `db:"pricing_model" json:"pricing_model"`
	// Unit is the human label for one unit of usage, e.g. "API call".
	Unit string `db:"unit" json:"unit"`
	types.BaseModel
}

func (f *Feature) TableName() string {
	return "features"
}

func (f *Feature) Validate() error {
	if f.Code == "" {
		return ierr.NewError("code is required").
			WithHint("Please provide a feature code").
			Mark(ierr.ErrValidation)
	}
	if err := f.Type.Validate(); err != nil {
		return err
	}
	if err := f.PricingModel.Validate(); err != nil {
		return err
	}
	return nil
}
