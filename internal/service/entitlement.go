package service

import (
	"context"
	"fmt"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/domain/entitlement"
	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	"github.com/joemash/enhanced-subscriptions/internal/domain/usage"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const accessCacheKeyPrefix = "feature_access"

// Access denial reasons surfaced in FeatureAccess.Reason.
const (
	AccessReasonFeatureNotFound      = "feature_not_found"
	AccessReasonFeatureDisabled      = "feature_disabled"
	AccessReasonQuotaExceeded        = "quota_exceeded"
	AccessReasonRateLimitExceeded    = "rate_limit_exceeded"
	AccessReasonSubscriptionInactive = "subscription_inactive"
)

// FeatureAccess is the answer to "can this subscription use this feature
// right now". Remaining is nil when the feature has no finite limit.
type FeatureAccess struct {
	Allowed   bool   `json:"allowed"`
	Remaining *int64 `json:"remaining,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// UsageCharge is the billable outcome of one metered feature for the
// period being closed.
type UsageCharge struct {
	FeatureID   string `json:"feature_id"`
	FeatureCode string `json:"feature_code"`
	Quantity    int64  `json:"quantity"`
	// BillableQuantity is the portion of Quantity that is actually
	// charged: everything for usage features, only the overage beyond
	// quota for quota features.
	BillableQuantity int64           `json:"billable_quantity"`
	Amount           decimal.Decimal `json:"amount"`
}

// EntitlementService answers access checks and meters usage for
// feature-based plans.
type EntitlementService interface {
	CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) (*entitlement.Entitlement, error)
	GetEntitlement(ctx context.Context, id string) (*entitlement.Entitlement, error)
	UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) (*entitlement.Entitlement, error)
	DeleteEntitlement(ctx context.Context, id string) error
	ListEntitlementsByPlan(ctx context.Context, planID string) ([]*entitlement.Entitlement, error)

	// CanAccess never returns an error for business denials; those come
	// back as Allowed=false with a Reason. Errors are reserved for
	// infrastructure failures.
	CanAccess(ctx context.Context, subscriptionID, featureCode string) (*FeatureAccess, error)
	// RecordUsage increments the subscription's counter for the feature
	// and invalidates the cached access answer.
	RecordUsage(ctx context.Context, subscriptionID, featureCode string, quantity int64) error
	// CalculateCharges prices the subscription's metered usage for the
	// period being closed. Every quota and usage counter appears in the
	// result, including within-quota rows with a zero amount, so the
	// returned snapshot is exactly what SettlePeriodUsage consumes. It
	// does not mutate counters.
	CalculateCharges(ctx context.Context, subscriptionID string) ([]UsageCharge, decimal.Decimal, error)
	// SettlePeriodUsage closes a billing period against a charge
	// snapshot: each counter is reduced by the quantity that snapshot
	// observed, not zeroed, so usage recorded after the calculation
	// carries into the next period instead of vanishing unbilled.
	SettlePeriodUsage(ctx context.Context, subscriptionID string, billed []UsageCharge) error
	// ResetPeriodUsage zeroes every usage counter for the subscription
	// unconditionally.
	ResetPeriodUsage(ctx context.Context, subscriptionID string) error
	InvalidateAccessCache(ctx context.Context, subscriptionID string)
}

type entitlementService struct {
	ServiceParams
	pricing PricingService
}

func NewEntitlementService(params ServiceParams) EntitlementService {
	return &entitlementService{
		ServiceParams: params,
		pricing:       NewPricingService(params),
	}
}

func (s *entitlementService) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if e.ID == "" {
		e.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT)
	}
	e.BaseModel = types.GetDefaultBaseModel(ctx)

	f, err := s.FeatureRepo.Get(ctx, e.FeatureID)
	if err != nil {
		return nil, err
	}
	e.FeatureType = f.Type

	if err := e.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.PlanRepo.Get(ctx, e.PlanID); err != nil {
		return nil, err
	}

	if err := s.EntitlementRepo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *entitlementService) GetEntitlement(ctx context.Context, id string) (*entitlement.Entitlement, error) {
	return s.EntitlementRepo.Get(ctx, id)
}

func (s *entitlementService) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.EntitlementRepo.Update(ctx, e); err != nil {
		return nil, err
	}
	// Limits may have changed; cached answers for every subscription on
	// this plan are now suspect.
	s.Cache.DeleteByPrefix(ctx, accessCacheKeyPrefix+":")
	return e, nil
}

func (s *entitlementService) DeleteEntitlement(ctx context.Context, id string) error {
	if err := s.EntitlementRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.Cache.DeleteByPrefix(ctx, accessCacheKeyPrefix+":")
	return nil
}

func (s *entitlementService) ListEntitlementsByPlan(ctx context.Context, planID string) ([]*entitlement.Entitlement, error) {
	return s.EntitlementRepo.ListByPlan(ctx, planID)
}

func accessCacheKey(subscriptionID, featureCode string) string {
	return fmt.Sprintf("%s:%s:%s", accessCacheKeyPrefix, subscriptionID, featureCode)
}

func (s *entitlementService) CanAccess(ctx context.Context, subscriptionID, featureCode string) (*FeatureAccess, error) {
	cacheKey := accessCacheKey(subscriptionID, featureCode)
	if cached, found := s.Cache.Get(ctx, cacheKey); found {
		if access, ok := cached.(*FeatureAccess); ok {
			return access, nil
		}
	}

	access, cacheable, err := s.checkAccess(ctx, subscriptionID, featureCode)
	if err != nil {
		return nil, err
	}

	// Denials are never cached: payment recovery or a counter reset can
	// flip the answer at any moment and a stale denial would lock the
	// customer out.
	if cacheable && access.Allowed {
		s.Cache.Set(ctx, cacheKey, access, s.Config.Cache.AccessTTL)
	}
	return access, nil
}

// checkAccess is the uncached access decision. The second return value
// reports whether the answer may be cached; rate answers near the window
// boundary are not.
func (s *entitlementService) checkAccess(ctx context.Context, subscriptionID, featureCode string) (*FeatureAccess, bool, error) {
	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, false, err
	}
	if !subscriptionUsable(sub) {
		return &FeatureAccess{Allowed: false, Reason: AccessReasonSubscriptionInactive}, false, nil
	}

	f, err := s.FeatureRepo.GetByCode(ctx, featureCode)
	if err != nil {
		if ierr.IsNotFound(err) {
			return &FeatureAccess{Allowed: false, Reason: AccessReasonFeatureNotFound}, false, nil
		}
		return nil, false, err
	}

	ent, err := s.EntitlementRepo.GetByPlanAndFeature(ctx, sub.PlanID, f.ID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return &FeatureAccess{Allowed: false, Reason: AccessReasonFeatureNotFound}, false, nil
		}
		return nil, false, err
	}
	if !ent.IsEnabled {
		return &FeatureAccess{Allowed: false, Reason: AccessReasonFeatureDisabled}, false, nil
	}

	switch ent.FeatureType {
	case types.FeatureTypeBoolean:
		return &FeatureAccess{Allowed: true}, true, nil

	case types.FeatureTypeUsage:
		// Metered but never gated.
		return &FeatureAccess{Allowed: true}, true, nil

	case types.FeatureTypeQuota:
		access, err := s.checkQuota(ctx, sub.ID, f.ID, ent)
		return access, true, err

	case types.FeatureTypeRate:
		access, err := s.checkRate(ctx, sub.ID, f.ID, ent)
		// Rate answers expire with the window, not with the TTL.
		return access, false, err
	}

	return &FeatureAccess{Allowed: false, Reason: AccessReasonFeatureNotFound}, false, nil
}

func (s *entitlementService) checkQuota(ctx context.Context, subscriptionID, featureID string, ent *entitlement.Entitlement) (*FeatureAccess, error) {
	if ent.Quota == nil {
		// No ceiling configured means unlimited.
		return &FeatureAccess{Allowed: true}, nil
	}

	used, err := s.currentQuantity(ctx, subscriptionID, featureID)
	if err != nil {
		return nil, err
	}

	remaining := *ent.Quota - used
	if remaining < 0 {
		remaining = 0
	}
	if used >= *ent.Quota {
		return &FeatureAccess{Allowed: false, Remaining: lo.ToPtr(remaining), Reason: AccessReasonQuotaExceeded}, nil
	}
	return &FeatureAccess{Allowed: true, Remaining: lo.ToPtr(remaining)}, nil
}

func (s *entitlementService) checkRate(ctx context.Context, subscriptionID, featureID string, ent *entitlement.Entitlement) (*FeatureAccess, error) {
	u, err := s.UsageRepo.Get(ctx, subscriptionID, featureID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return &FeatureAccess{Allowed: true, Remaining: lo.ToPtr(*ent.RateLimit)}, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if now.Sub(u.WindowStart) >= *ent.RateWindow {
		// The window elapsed; reset lazily on this check rather than
		// running a background ticker.
		u.Reset(now)
		u.UpdatedAt = now
		if err := s.UsageRepo.Update(ctx, u); err != nil {
			return nil, err
		}
	}

	remaining := *ent.RateLimit - u.Quantity
	if remaining < 0 {
		remaining = 0
	}
	if u.Quantity >= *ent.RateLimit {
		return &FeatureAccess{Allowed: false, Remaining: lo.ToPtr(remaining), Reason: AccessReasonRateLimitExceeded}, nil
	}
	return &FeatureAccess{Allowed: true, Remaining: lo.ToPtr(remaining)}, nil
}

func (s *entitlementService) currentQuantity(ctx context.Context, subscriptionID, featureID string) (int64, error) {
	u, err := s.UsageRepo.Get(ctx, subscriptionID, featureID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return u.Quantity, nil
}

func (s *entitlementService) RecordUsage(ctx context.Context, subscriptionID, featureCode string, quantity int64) error {
	if quantity <= 0 {
		return ierr.NewError("quantity must be positive").
			WithHint("Usage increments must be greater than zero").
			WithReportableDetails(map[string]any{
				"quantity": quantity,
			}).
			Mark(ierr.ErrValidation)
	}

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	f, err := s.FeatureRepo.GetByCode(ctx, featureCode)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	u, err := s.UsageRepo.Get(ctx, sub.ID, f.ID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return err
		}
		u = &usage.FeatureUsage{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_USAGE),
			SubscriptionID: sub.ID,
			FeatureID:      f.ID,
			Quantity:       quantity,
			WindowStart:    now,
			LastResetAt:    now,
			BaseModel:      types.GetDefaultBaseModel(ctx),
		}
		if err := s.UsageRepo.Create(ctx, u); err != nil {
			return err
		}
	} else {
		u.Quantity += quantity
		u.UpdatedAt = now
		if err := s.UsageRepo.Update(ctx, u); err != nil {
			return err
		}
	}

	// The cached answer is stale the moment the counter moves.
	s.Cache.Delete(ctx, accessCacheKey(sub.ID, featureCode))

	s.Logger.WithContext(ctx).Debugw("recorded feature usage",
		"subscription_id", sub.ID,
		"feature_code", featureCode,
		"quantity", quantity,
		"total", u.Quantity,
	)
	return nil
}

func (s *entitlementService) CalculateCharges(ctx context.Context, subscriptionID string) ([]UsageCharge, decimal.Decimal, error) {
	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	usages, err := s.UsageRepo.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	charges := make([]UsageCharge, 0, len(usages))
	total := decimal.Zero
	for _, u := range usages {
		f, err := s.FeatureRepo.Get(ctx, u.FeatureID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		ent, err := s.EntitlementRepo.GetByPlanAndFeature(ctx, sub.PlanID, f.ID)
		if err != nil {
			if ierr.IsNotFound(err) {
				continue
			}
			return nil, decimal.Zero, err
		}

		// Boolean and rate features meter but never bill, and their
		// counters are not tied to the billing period.
		if ent.FeatureType != types.FeatureTypeQuota && ent.FeatureType != types.FeatureTypeUsage {
			continue
		}

		billable := billableQuantity(ent, u.Quantity)
		amount := decimal.Zero
		if billable > 0 {
			amount, err = s.priceQuantity(ctx, f.PricingModel, ent, billable)
			if err != nil {
				return nil, decimal.Zero, err
			}
		}

		charges = append(charges, UsageCharge{
			FeatureID:        f.ID,
			FeatureCode:      f.Code,
			Quantity:         u.Quantity,
			BillableQuantity: billable,
			Amount:           amount,
		})
		total = total.Add(amount)
	}

	return charges, types.RoundAmount(total), nil
}

// billableQuantity converts a raw counter into the quantity that is
// charged. Quota features bill only the overage beyond the included
// quota; usage features bill everything; boolean and rate features never
// bill.
func billableQuantity(ent *entitlement.Entitlement, quantity int64) int64 {
	switch ent.FeatureType {
	case types.FeatureTypeUsage:
		return quantity
	case types.FeatureTypeQuota:
		if ent.Quota == nil {
			return 0
		}
		overage := quantity - *ent.Quota
		if overage < 0 {
			return 0
		}
		return overage
	default:
		return 0
	}
}

func (s *entitlementService) priceQuantity(ctx context.Context, model types.PricingModel, ent *entitlement.Entitlement, quantity int64) (decimal.Decimal, error) {
	in := PricingInput{
		Model:    model,
		Quantity: decimal.NewFromInt(quantity),
	}
	if ent.OverageRate != nil {
		in.UnitAmount = *ent.OverageRate
		in.PackageAmount = *ent.OverageRate
	}
	in.Tiers = ent.Tiers
	if ent.PackageSize != nil {
		in.PackageSize = *ent.PackageSize
	}
	return s.pricing.Calculate(ctx, in)
}

// SettlePeriodUsage subtracts the billed snapshot from each counter
// instead of zeroing it. Usage recorded between the charge calculation
// and this call stays on the counter and is billed with the next
// period.
func (s *entitlementService) SettlePeriodUsage(ctx context.Context, subscriptionID string, billed []UsageCharge) error {
	now := time.Now().UTC()
	for _, charge := range billed {
		u, err := s.UsageRepo.Get(ctx, subscriptionID, charge.FeatureID)
		if err != nil {
			if ierr.IsNotFound(err) {
				continue
			}
			return err
		}
		u.Quantity -= charge.Quantity
		if u.Quantity < 0 {
			u.Quantity = 0
		}
		u.LastResetAt = now
		u.UpdatedAt = now
		if err := s.UsageRepo.Update(ctx, u); err != nil {
			return err
		}
	}

	s.InvalidateAccessCache(ctx, subscriptionID)
	return nil
}

func (s *entitlementService) ResetPeriodUsage(ctx context.Context, subscriptionID string) error {
	usages, err := s.UsageRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, u := range usages {
		u.Reset(now)
		u.UpdatedAt = now
		if err := s.UsageRepo.Update(ctx, u); err != nil {
			return err
		}
	}

	s.InvalidateAccessCache(ctx, subscriptionID)
	return nil
}

func (s *entitlementService) InvalidateAccessCache(ctx context.Context, subscriptionID string) {
	s.Cache.DeleteByPrefix(ctx, fmt.Sprintf("%s:%s:", accessCacheKeyPrefix, subscriptionID))
}

// subscriptionUsable reports whether the subscription currently grants
// feature access: active always, past_due only while inside its grace
// window.
func subscriptionUsable(sub *subscription.Subscription) bool {
	switch sub.SubscriptionStatus {
	case types.SubscriptionStatusActive:
		return true
	case types.SubscriptionStatusPastDue:
		return sub.GraceUntil != nil && time.Now().UTC().Before(*sub.GraceUntil)
	default:
		return false
	}
}
