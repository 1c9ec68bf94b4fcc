package types

import (
	"github.com/shopspring/decimal"
)

// AmountPrecision is the minor-unit precision charges are rounded to.
const AmountPrecision = 2

// PricingTier is one range of a tiered or volume price table. UpTo is the
// exclusive upper bound of the tier in units; nil marks the open-ended top
// tier. The lower bound of a tier is the previous tier's UpTo (0 for the
// first tier). FlatAmount is charged once whenever the tier is used.
type PricingTier struct {
	UpTo       *uint64         `json:"up_to"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	FlatAmount decimal.Decimal `json:"flat_amount"`
}

// GetTierUpTo returns the tier upper bound, with the open-ended top tier
// sorting last.
func (t PricingTier) GetTierUpTo() uint64 {
	if t.UpTo == nil {
		return ^uint64(0)
	}
	return *t.UpTo
}

// RoundAmount rounds a computed charge to minor-unit precision.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountPrecision)
}
