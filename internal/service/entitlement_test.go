package service

import (
	"testing"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/domain/customer"
	"github.com/joemash/enhanced-subscriptions/internal/domain/entitlement"
	"github.com/joemash/enhanced-subscriptions/internal/domain/feature"
	"github.com/joemash/enhanced-subscriptions/internal/domain/plan"
	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	"github.com/joemash/enhanced-subscriptions/internal/testutil"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type EntitlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	service EntitlementService
	plan    *plan.Plan
	sub     *subscription.Subscription
}

func TestEntitlementService(t *testing.T) {
	suite.Run(t, new(EntitlementServiceSuite))
}

func (s *EntitlementServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewEntitlementService(testServiceParams(&s.BaseServiceTestSuite))

	ctx := s.GetContext()
	cust := &customer.Customer{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER),
		ExternalID: "ext-1",
		BaseModel:  types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().CustomerStore.Create(ctx, cust))

	s.plan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Pro",
		IsFeatureBased: true,
		RetryStrategy:  types.RetryStrategyExponential,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().PlanStore.Create(ctx, s.plan))

	now := time.Now().UTC()
	next := now.AddDate(0, 1, 0)
	s.sub = &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         cust.ID,
		PlanID:             s.plan.ID,
		PlanCostID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN_COST),
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingStart:       now,
		BillingNext:        &next,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionStore.Create(ctx, s.sub))
}

func (s *EntitlementServiceSuite) createFeature(code string, ftype types.FeatureType, model types.PricingModel) *feature.Feature {
	f := &feature.Feature{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE),
		Code:         code,
		Name:         code,
		Type:         ftype,
		PricingModel: model,
		BaseModel:    types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().FeatureStore.Create(s.GetContext(), f))
	return f
}

func (s *EntitlementServiceSuite) grant(f *feature.Feature, mutate func(e *entitlement.Entitlement)) *entitlement.Entitlement {
	e := &entitlement.Entitlement{
		PlanID:    s.plan.ID,
		FeatureID: f.ID,
		IsEnabled: true,
	}
	if mutate != nil {
		mutate(e)
	}
	created, err := s.service.CreateEntitlement(s.GetContext(), e)
	s.NoError(err)
	return created
}

func (s *EntitlementServiceSuite) TestBooleanFeatureAccess() {
	f := s.createFeature("api_access", types.FeatureTypeBoolean, types.PRICING_MODEL_FLAT)
	s.grant(f, nil)

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "api_access")
	s.NoError(err)
	s.True(access.Allowed)
	s.Nil(access.Remaining)
}

func (s *EntitlementServiceSuite) TestDisabledFeatureDenied() {
	f := s.createFeature("beta_tools", types.FeatureTypeBoolean, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) { e.IsEnabled = false })

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "beta_tools")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonFeatureDisabled, access.Reason)
}

func (s *EntitlementServiceSuite) TestUnknownFeatureDenied() {
	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "nope")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonFeatureNotFound, access.Reason)
}

func (s *EntitlementServiceSuite) TestQuotaBoundary() {
	f := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) { e.Quota = lo.ToPtr(int64(1000)) })

	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 999))

	// 999 of 1000 used: exactly one left, still allowed.
	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.True(access.Allowed)
	s.Equal(int64(1), *access.Remaining)

	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 1))

	// At the quota the next check denies.
	access, err = s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonQuotaExceeded, access.Reason)
	s.Equal(int64(0), *access.Remaining)
}

func (s *EntitlementServiceSuite) TestUsageFeatureAlwaysAllowed() {
	f := s.createFeature("api_calls", types.FeatureTypeUsage, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.01))
	})

	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "api_calls", 1_000_000))

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "api_calls")
	s.NoError(err)
	s.True(access.Allowed)
}

func (s *EntitlementServiceSuite) TestRateLimitDeniesWithinWindow() {
	f := s.createFeature("webhooks", types.FeatureTypeRate, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.RateLimit = lo.ToPtr(int64(5))
		e.RateWindow = lo.ToPtr(time.Hour)
	})

	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "webhooks", 5))

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "webhooks")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonRateLimitExceeded, access.Reason)
}

func (s *EntitlementServiceSuite) TestRateWindowResetsLazily() {
	f := s.createFeature("webhooks", types.FeatureTypeRate, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.RateLimit = lo.ToPtr(int64(5))
		e.RateWindow = lo.ToPtr(time.Hour)
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "webhooks", 5))

	// Backdate the window anchor past a full window; the next check
	// must reset the counter instead of waiting for a background job.
	u, err := s.GetStores().UsageStore.Get(s.GetContext(), s.sub.ID, f.ID)
	s.NoError(err)
	u.WindowStart = time.Now().UTC().Add(-2 * time.Hour)
	s.NoError(s.GetStores().UsageStore.Update(s.GetContext(), u))

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "webhooks")
	s.NoError(err)
	s.True(access.Allowed)
	s.Equal(int64(5), *access.Remaining)

	// The reset is persisted, not just computed.
	u, err = s.GetStores().UsageStore.Get(s.GetContext(), s.sub.ID, f.ID)
	s.NoError(err)
	s.Equal(int64(0), u.Quantity)
}

func (s *EntitlementServiceSuite) TestInactiveSubscriptionDenied() {
	f := s.createFeature("api_access", types.FeatureTypeBoolean, types.PRICING_MODEL_FLAT)
	s.grant(f, nil)

	s.sub.SubscriptionStatus = types.SubscriptionStatusExpired
	s.NoError(s.GetStores().SubscriptionStore.Update(s.GetContext(), s.sub))

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "api_access")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonSubscriptionInactive, access.Reason)
}

// A cached allow must never outlive the usage that invalidates it.
func (s *EntitlementServiceSuite) TestUsageInvalidatesCachedAnswer() {
	f := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) { e.Quota = lo.ToPtr(int64(2)) })

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.True(access.Allowed)

	// Served from cache on the second call.
	access, err = s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.True(access.Allowed)

	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 2))

	access, err = s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.False(access.Allowed)
	s.Equal(AccessReasonQuotaExceeded, access.Reason)
}

func (s *EntitlementServiceSuite) TestCalculateChargesPerFeatureType() {
	// Quota: 150 used of 100 included, overage billed at 0.50.
	quotaFeat := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(quotaFeat, func(e *entitlement.Entitlement) {
		e.Quota = lo.ToPtr(int64(100))
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.5))
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 150))

	// Usage: the whole 200 billed at 0.10.
	usageFeat := s.createFeature("api_calls", types.FeatureTypeUsage, types.PRICING_MODEL_FLAT)
	s.grant(usageFeat, func(e *entitlement.Entitlement) {
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.1))
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "api_calls", 200))

	// Rate features meter but never bill.
	rateFeat := s.createFeature("webhooks", types.FeatureTypeRate, types.PRICING_MODEL_FLAT)
	s.grant(rateFeat, func(e *entitlement.Entitlement) {
		e.RateLimit = lo.ToPtr(int64(1000))
		e.RateWindow = lo.ToPtr(time.Hour)
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "webhooks", 500))

	charges, total, err := s.service.CalculateCharges(s.GetContext(), s.sub.ID)
	s.NoError(err)
	s.Len(charges, 2)
	s.True(total.Equal(decimal.NewFromInt(45)), "got %s", total)

	byCode := make(map[string]UsageCharge, len(charges))
	for _, c := range charges {
		byCode[c.FeatureCode] = c
	}
	s.Equal(int64(50), byCode["exports"].BillableQuantity)
	s.True(byCode["exports"].Amount.Equal(decimal.NewFromInt(25)))
	s.Equal(int64(200), byCode["api_calls"].BillableQuantity)
	s.True(byCode["api_calls"].Amount.Equal(decimal.NewFromInt(20)))
}

func (s *EntitlementServiceSuite) TestQuotaWithinIncludedIsFree() {
	f := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.Quota = lo.ToPtr(int64(100))
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.5))
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 80))

	// The counter still shows up in the snapshot with a zero amount, so
	// settling the period knows how much was observed.
	charges, total, err := s.service.CalculateCharges(s.GetContext(), s.sub.ID)
	s.NoError(err)
	s.Len(charges, 1)
	s.Equal(int64(80), charges[0].Quantity)
	s.Equal(int64(0), charges[0].BillableQuantity)
	s.True(charges[0].Amount.IsZero())
	s.True(total.IsZero())
}

// Usage recorded after the charge snapshot was taken must survive the
// period close: settling subtracts the billed quantity instead of
// zeroing the counter.
func (s *EntitlementServiceSuite) TestSettlePeriodUsageKeepsUnbilledTail() {
	f := s.createFeature("api_calls", types.FeatureTypeUsage, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.1))
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "api_calls", 150))

	charges, total, err := s.service.CalculateCharges(s.GetContext(), s.sub.ID)
	s.NoError(err)
	s.Len(charges, 1)
	s.True(total.Equal(decimal.NewFromInt(15)), "got %s", total)

	// More usage lands between the calculation and the period close.
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "api_calls", 30))

	s.NoError(s.service.SettlePeriodUsage(s.GetContext(), s.sub.ID, charges))

	u, err := s.GetStores().UsageStore.Get(s.GetContext(), s.sub.ID, f.ID)
	s.NoError(err)
	s.Equal(int64(30), u.Quantity)

	// The tail bills with the next period.
	charges, total, err = s.service.CalculateCharges(s.GetContext(), s.sub.ID)
	s.NoError(err)
	s.Len(charges, 1)
	s.Equal(int64(30), charges[0].BillableQuantity)
	s.True(total.Equal(decimal.NewFromInt(3)), "got %s", total)
}

// Settling with the full snapshot behaves like a reset when nothing
// raced in: counters land on zero, never below.
func (s *EntitlementServiceSuite) TestSettlePeriodUsageClampsAtZero() {
	f := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) {
		e.Quota = lo.ToPtr(int64(100))
		e.OverageRate = lo.ToPtr(decimal.NewFromFloat(0.5))
	})
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 80))

	charges, _, err := s.service.CalculateCharges(s.GetContext(), s.sub.ID)
	s.NoError(err)

	s.NoError(s.service.SettlePeriodUsage(s.GetContext(), s.sub.ID, charges))
	s.NoError(s.service.SettlePeriodUsage(s.GetContext(), s.sub.ID, charges))

	u, err := s.GetStores().UsageStore.Get(s.GetContext(), s.sub.ID, f.ID)
	s.NoError(err)
	s.Equal(int64(0), u.Quantity)
}

func (s *EntitlementServiceSuite) TestResetPeriodUsage() {
	f := s.createFeature("exports", types.FeatureTypeQuota, types.PRICING_MODEL_FLAT)
	s.grant(f, func(e *entitlement.Entitlement) { e.Quota = lo.ToPtr(int64(10)) })
	s.NoError(s.service.RecordUsage(s.GetContext(), s.sub.ID, "exports", 10))

	access, err := s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.False(access.Allowed)

	s.NoError(s.service.ResetPeriodUsage(s.GetContext(), s.sub.ID))

	access, err = s.service.CanAccess(s.GetContext(), s.sub.ID, "exports")
	s.NoError(err)
	s.True(access.Allowed)
	s.Equal(int64(10), *access.Remaining)

	u, err := s.GetStores().UsageStore.Get(s.GetContext(), s.sub.ID, f.ID)
	s.NoError(err)
	s.Equal(int64(0), u.Quantity)
}
