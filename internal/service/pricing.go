package service

import (
	"context"
	"sort"

	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/logger"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// PricingInput is everything a price computation needs. It is assembled
// from a PlanCost for period fees or from an Entitlement for usage
// charges.
type PricingInput struct {
	Model    types.PricingModel
	Quantity decimal.Decimal
	// UnitAmount is the per-unit rate for flat pricing.
	UnitAmount decimal.Decimal
	// Tiers back tiered and volume pricing.
	Tiers []types.PricingTier
	// PackageSize and PackageAmount back package pricing.
	PackageSize   int64
	PackageAmount decimal.Decimal
}

func (in PricingInput) Validate() error {
	if err := in.Model.Validate(); err != nil {
		return err
	}
	if in.Quantity.IsNegative() {
		return ierr.NewError("quantity must not be negative").
			WithHint("Pricing quantity must be zero or positive").
			WithReportableDetails(map[string]any{
				"quantity": in.Quantity,
			}).
			Mark(ierr.ErrValidation)
	}

	switch in.Model {
	case types.PRICING_MODEL_TIERED, types.PRICING_MODEL_VOLUME:
		if len(in.Tiers) == 0 {
			return ierr.NewError("tier table is required").
				WithHintf("%s pricing requires at least one tier", in.Model).
				Mark(ierr.ErrValidation)
		}
	case types.PRICING_MODEL_PACKAGE:
		if in.PackageSize <= 0 {
			return ierr.NewError("package_size must be positive").
				WithHint("Package pricing requires a positive package size").
				WithReportableDetails(map[string]any{
					"package_size": in.PackageSize,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// PricingService computes monetary charges. Calculate is pure and
// deterministic: identical inputs always produce identical amounts.
type PricingService interface {
	Calculate(ctx context.Context, in PricingInput) (decimal.Decimal, error)
}

type pricingService struct {
	logger *logger.Logger
}

func NewPricingService(params ServiceParams) PricingService {
	return &pricingService{logger: params.Logger}
}

// Calculate returns the charge for the given input rounded to minor-unit
// precision. A zero quantity yields a zero amount for every model;
// callers charging a fixed per-period fee pass quantity 1 with the fee as
// the unit amount.
func (s *pricingService) Calculate(ctx context.Context, in PricingInput) (decimal.Decimal, error) {
	if err := in.Validate(); err != nil {
		return decimal.Zero, err
	}

	if in.Quantity.IsZero() {
		return decimal.Zero, nil
	}

	var cost decimal.Decimal
	switch in.Model {
	case types.PRICING_MODEL_FLAT:
		cost = in.Quantity.Mul(in.UnitAmount)

	case types.PRICING_MODEL_TIERED:
		cost = s.calculateTieredCost(ctx, in.Tiers, in.Quantity)

	case types.PRICING_MODEL_VOLUME:
		cost = s.calculateVolumeCost(ctx, in.Tiers, in.Quantity)

	case types.PRICING_MODEL_PACKAGE:
		// Partial package usage still incurs a full package's charge.
		packagesNeeded := in.Quantity.Div(decimal.NewFromInt(in.PackageSize)).Ceil()
		cost = packagesNeeded.Mul(in.PackageAmount)
	}

	return types.RoundAmount(cost), nil
}

// calculateTieredCost splits the quantity across ordered [lower, upper)
// tiers: the first units are priced at tier 1's rate, the next at tier
// 2's, and so on. Quantity beyond the last bounded tier is priced at the
// open-ended top tier's rate. A tier's flat amount applies once when any
// units fall into it.
func (s *pricingService) calculateTieredCost(ctx context.Context, tiers []types.PricingTier, quantity decimal.Decimal) decimal.Decimal {
	sorted := sortTiers(tiers)

	cost := decimal.Zero
	remaining := quantity
	lower := decimal.Zero
	for _, tier := range sorted {
		tierQuantity := remaining
		if tier.UpTo != nil {
			width := decimal.NewFromUint64(*tier.UpTo).Sub(lower)
			if tierQuantity.GreaterThan(width) {
				tierQuantity = width
			}
			lower = decimal.NewFromUint64(*tier.UpTo)
		}

		if tierQuantity.IsPositive() {
			cost = cost.Add(tierQuantity.Mul(tier.UnitAmount)).Add(tier.FlatAmount)
			remaining = remaining.Sub(tierQuantity)
		}

		s.logger.WithContext(ctx).Debugw("tiered pricing slab",
			"tier_up_to", tier.UpTo,
			"tier_quantity", tierQuantity,
			"remaining", remaining,
		)

		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
	}

	return cost
}

// calculateVolumeCost prices the entire quantity at the rate of the
// single tier containing it. This is the key behavioral difference from
// tiered pricing: no splitting across tiers.
func (s *pricingService) calculateVolumeCost(ctx context.Context, tiers []types.PricingTier, quantity decimal.Decimal) decimal.Decimal {
	sorted := sortTiers(tiers)

	selected := sorted[len(sorted)-1]
	for _, tier := range sorted {
		if tier.UpTo == nil || quantity.LessThan(decimal.NewFromUint64(*tier.UpTo)) {
			selected = tier
			break
		}
	}

	s.logger.WithContext(ctx).Debugw("volume pricing tier selected",
		"tier_up_to", selected.UpTo,
		"quantity", quantity,
	)

	return quantity.Mul(selected.UnitAmount).Add(selected.FlatAmount)
}

func sortTiers(tiers []types.PricingTier) []types.PricingTier {
	sorted := make([]types.PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GetTierUpTo() < sorted[j].GetTierUpTo()
	})
	return sorted
}
