package service

import (
	"testing"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/domain/customer"
	"github.com/joemash/enhanced-subscriptions/internal/domain/entitlement"
	"github.com/joemash/enhanced-subscriptions/internal/domain/feature"
	"github.com/joemash/enhanced-subscriptions/internal/domain/plan"
	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/testutil"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type LifecycleServiceSuite struct {
	testutil.BaseServiceTestSuite
	service   LifecycleService
	walletSvc WalletService
	retrySvc  RetryService

	customer *customer.Customer
	wallet   *wallet.Wallet
	plan     *plan.Plan
	cost     *plan.PlanCost
}

func TestLifecycleService(t *testing.T) {
	suite.Run(t, new(LifecycleServiceSuite))
}

func (s *LifecycleServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := testServiceParams(&s.BaseServiceTestSuite)
	s.walletSvc = NewWalletService(params)
	s.retrySvc = NewRetryService(params)
	s.service = NewLifecycleService(params, s.retrySvc)

	ctx := s.GetContext()
	s.customer = &customer.Customer{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER),
		ExternalID: "ext-1",
		BaseModel:  types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().CustomerStore.Create(ctx, s.customer))

	w, err := s.walletSvc.CreateWallet(ctx, s.customer.ID, "usd")
	s.NoError(err)
	s.wallet = w

	s.plan = &plan.Plan{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:            "Pro",
		GracePeriodDays: 7,
		RetryStrategy:   types.RetryStrategyExponential,
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().PlanStore.Create(ctx, s.plan))

	s.cost = &plan.PlanCost{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN_COST),
		PlanID:           s.plan.ID,
		RecurrencePeriod: 1,
		RecurrenceUnit:   types.RECURRENCE_UNIT_MONTH,
		Amount:           decimal.NewFromInt(50),
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().PlanStore.CreateCost(ctx, s.cost))
}

func (s *LifecycleServiceSuite) fund(amount int64) {
	_, err := s.walletSvc.Deposit(s.GetContext(), &wallet.WalletOperation{
		WalletID: s.wallet.ID,
		Amount:   decimal.NewFromInt(amount),
		Reason:   types.TransactionReasonDeposit,
	})
	s.NoError(err)
}

func (s *LifecycleServiceSuite) balance() decimal.Decimal {
	b, err := s.walletSvc.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	return b
}

func (s *LifecycleServiceSuite) reload(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionStore.Get(s.GetContext(), id)
	s.NoError(err)
	return sub
}

// backdateDue makes an active subscription due in the past.
func (s *LifecycleServiceSuite) backdateDue(sub *subscription.Subscription, ago time.Duration) time.Time {
	due := time.Now().UTC().Add(-ago)
	sub.BillingNext = &due
	s.NoError(s.GetStores().SubscriptionStore.Update(s.GetContext(), sub))
	return due
}

func (s *LifecycleServiceSuite) activeSubscription() *subscription.Subscription {
	s.fund(50)
	sub, err := s.service.CreateSubscription(s.GetContext(), s.customer.ID, s.cost.ID)
	s.NoError(err)
	s.NoError(s.service.ProcessNew(s.GetContext()))
	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	return sub
}

func (s *LifecycleServiceSuite) TestCreateSubscriptionStartsPending() {
	sub, err := s.service.CreateSubscription(s.GetContext(), s.customer.ID, s.cost.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPending, sub.SubscriptionStatus)
	s.Nil(sub.BillingNext)
}

func (s *LifecycleServiceSuite) TestActivationChargesFirstPeriod() {
	s.fund(100)
	sub, err := s.service.CreateSubscription(s.GetContext(), s.customer.ID, s.cost.ID)
	s.NoError(err)

	s.NoError(s.service.ProcessNew(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.NotNil(sub.BillingNext)
	s.True(s.balance().Equal(decimal.NewFromInt(50)))

	txns, err := s.GetStores().WalletStore.ListTransactionsByReference(
		s.GetContext(), types.WalletTxReferenceTypeSubscription, sub.ID)
	s.NoError(err)
	s.Len(txns, 1)
	s.Equal(types.TransactionReasonSubscriptionPayment, txns[0].Reason)
}

func (s *LifecycleServiceSuite) TestActivationFailureStaysPendingAndSchedulesRetry() {
	sub, err := s.service.CreateSubscription(s.GetContext(), s.customer.ID, s.cost.ID)
	s.NoError(err)

	s.NoError(s.service.ProcessNew(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusPending, sub.SubscriptionStatus)

	records, err := s.GetStores().RetryStore.ListBySubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal(types.RetryOperationActivation, records[0].Operation)
	s.Equal(types.RetryStatusScheduled, records[0].RetryStatus)
	s.NotNil(records[0].NextAttemptAt)
	s.False(records[0].Resolved)
}

func (s *LifecycleServiceSuite) TestRenewalAdvancesAnchorFromDueTimestamp() {
	sub := s.activeSubscription()
	due := s.backdateDue(sub, 48*time.Hour)
	s.fund(50)

	s.NoError(s.service.ProcessDue(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)

	// The anchor advances from the due timestamp, not from the sweep
	// time, so late sweeps never drift the schedule.
	expected, err := types.NextBillingDate(due, 1, types.RECURRENCE_UNIT_MONTH)
	s.NoError(err)
	s.True(sub.BillingNext.Equal(expected), "got %s want %s", sub.BillingNext, expected)
	s.True(s.balance().IsZero())
}

func (s *LifecycleServiceSuite) TestRenewalIncludesUsageCharges() {
	s.plan.IsFeatureBased = true
	s.NoError(s.GetStores().PlanStore.Update(s.GetContext(), s.plan))

	sub := s.activeSubscription()

	params := testServiceParams(&s.BaseServiceTestSuite)
	entSvc := NewEntitlementService(params)
	feat := &feature.Feature{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE),
		Code:         "api_calls",
		Name:         "API calls",
		Type:         types.FeatureTypeUsage,
		PricingModel: types.PRICING_MODEL_FLAT,
		BaseModel:    types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().FeatureStore.Create(s.GetContext(), feat))
	_, err := entSvc.CreateEntitlement(s.GetContext(), &entitlement.Entitlement{
		PlanID:      s.plan.ID,
		FeatureID:   feat.ID,
		IsEnabled:   true,
		OverageRate: lo.ToPtr(decimal.NewFromFloat(0.1)),
	})
	s.NoError(err)

	s.NoError(entSvc.RecordUsage(s.GetContext(), sub.ID, "api_calls", 200))
	s.backdateDue(sub, time.Hour)
	s.fund(70) // 50 plan fee + 20 usage

	s.NoError(s.service.ProcessDue(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.True(s.balance().IsZero(), "got %s", s.balance())

	// The billed quantities come off the counters with the period.
	usages, err := s.GetStores().UsageStore.ListBySubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	for _, u := range usages {
		s.Equal(int64(0), u.Quantity)
	}
}

func (s *LifecycleServiceSuite) TestRenewalFailureEntersGracePeriod() {
	sub := s.activeSubscription()
	s.backdateDue(sub, time.Hour)
	// Wallet is empty after activation.

	s.NoError(s.service.ProcessDue(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	s.NotNil(sub.GraceUntil)
	expected := time.Now().UTC().AddDate(0, 0, s.plan.GracePeriodDays)
	s.WithinDuration(expected, *sub.GraceUntil, time.Minute)

	records, err := s.GetStores().RetryStore.ListBySubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal(types.RetryOperationRenewal, records[0].Operation)
}

func (s *LifecycleServiceSuite) TestZeroGracePeriodExpiresImmediately() {
	s.plan.GracePeriodDays = 0
	s.NoError(s.GetStores().PlanStore.Update(s.GetContext(), s.plan))

	sub := s.activeSubscription()
	s.backdateDue(sub, time.Hour)

	s.NoError(s.service.ProcessDue(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusExpired, sub.SubscriptionStatus)
}

func (s *LifecycleServiceSuite) TestPastDueExpiresOnlyAfterGraceDeadline() {
	sub := s.activeSubscription()
	s.backdateDue(sub, time.Hour)
	s.NoError(s.service.ProcessDue(s.GetContext())) // enters grace

	// Inside the grace window nothing expires.
	s.NoError(s.service.ProcessExpired(s.GetContext()))
	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, sub.SubscriptionStatus)

	// Push the deadline into the past; now it expires.
	deadline := time.Now().UTC().Add(-time.Minute)
	sub.GraceUntil = &deadline
	s.NoError(s.GetStores().SubscriptionStore.Update(s.GetContext(), sub))

	s.NoError(s.service.ProcessExpired(s.GetContext()))
	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusExpired, sub.SubscriptionStatus)

	// Expiry exhausts in-flight recovery; the record stays visible.
	records, err := s.GetStores().RetryStore.ListBySubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal(types.RetryStatusExhausted, records[0].RetryStatus)
	s.False(records[0].Resolved)
}

func (s *LifecycleServiceSuite) TestProcessAllIsIdempotent() {
	s.fund(200)
	sub, err := s.service.CreateSubscription(s.GetContext(), s.customer.ID, s.cost.ID)
	s.NoError(err)

	s.NoError(s.service.ProcessAll(s.GetContext()))
	s.NoError(s.service.ProcessAll(s.GetContext()))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)

	// Exactly one activation charge despite two passes.
	txns, err := s.GetStores().WalletStore.ListTransactionsByReference(
		s.GetContext(), types.WalletTxReferenceTypeSubscription, sub.ID)
	s.NoError(err)
	s.Len(txns, 1)
	s.True(s.balance().Equal(decimal.NewFromInt(150)))
}

func (s *LifecycleServiceSuite) TestRenewalSkippedWhileRecoveryInFlight() {
	sub := s.activeSubscription()
	s.backdateDue(sub, time.Hour)
	s.NoError(s.service.ProcessDue(s.GetContext())) // fails, schedules retry

	// Back to active manually (simulating a partial recovery race) with
	// the retry record still unresolved: the sweep must not charge.
	sub = s.reload(sub.ID)
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.GraceUntil = nil
	s.backdateDue(sub, time.Hour)
	s.fund(500)

	s.NoError(s.service.ProcessDue(s.GetContext()))
	s.True(s.balance().Equal(decimal.NewFromInt(500)), "no charge while recovery owns the renewal")
}

func (s *LifecycleServiceSuite) TestCancelActiveWithProration() {
	sub := s.activeSubscription()

	s.NoError(s.service.Cancel(s.GetContext(), sub.ID, true))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.NotNil(sub.CancelledAt)

	// Cancelled right after activation: nearly the whole period is
	// unused, so nearly the whole fee comes back.
	refunds, err := s.GetStores().WalletStore.ListTransactionsByReference(
		s.GetContext(), types.WalletTxReferenceTypeTransaction, s.lastChargeID(sub.ID))
	s.NoError(err)
	s.Len(refunds, 1)
	s.Equal(types.TransactionReasonCancellationProration, refunds[0].Reason)
	s.True(refunds[0].Amount.GreaterThan(decimal.NewFromInt(49)))
	s.True(refunds[0].Amount.LessThanOrEqual(decimal.NewFromInt(50)))
}

func (s *LifecycleServiceSuite) lastChargeID(subscriptionID string) string {
	txns, err := s.GetStores().WalletStore.ListTransactionsByReference(
		s.GetContext(), types.WalletTxReferenceTypeSubscription, subscriptionID)
	s.NoError(err)
	s.NotEmpty(txns)
	last := txns[0]
	for _, tx := range txns[1:] {
		if tx.CreatedAt.After(last.CreatedAt) {
			last = tx
		}
	}
	return last.ID
}

func (s *LifecycleServiceSuite) TestCancelWithoutProrationRefundsNothing() {
	sub := s.activeSubscription()

	s.NoError(s.service.Cancel(s.GetContext(), sub.ID, false))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.True(s.balance().IsZero())
}

func (s *LifecycleServiceSuite) TestCancelPastDueRefundsNothing() {
	sub := s.activeSubscription()
	s.backdateDue(sub, time.Hour)
	s.NoError(s.service.ProcessDue(s.GetContext())) // enters grace

	s.NoError(s.service.Cancel(s.GetContext(), sub.ID, true))

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.True(s.balance().IsZero())
}

// A refund failure never blocks cancellation; the refund is handed to
// the retry coordinator and the error surfaces to the caller.
func (s *LifecycleServiceSuite) TestCancelSucceedsWhenRefundFails() {
	sub := s.activeSubscription()
	s.NoError(s.walletSvc.UpdateWalletStatus(s.GetContext(), s.wallet.ID, types.WalletStatusClosed))

	err := s.service.Cancel(s.GetContext(), sub.ID, true)
	s.Error(err)

	sub = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)

	records, err := s.GetStores().RetryStore.ListBySubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	var refundRecords int
	for _, r := range records {
		if r.Operation == types.RetryOperationRefund {
			refundRecords++
			s.Equal(types.RetryStrategyImmediate, r.Strategy)
			s.False(r.Resolved)
		}
	}
	s.Equal(1, refundRecords)
}

func (s *LifecycleServiceSuite) TestCancelTerminalRejected() {
	sub := s.activeSubscription()
	s.NoError(s.service.Cancel(s.GetContext(), sub.ID, false))

	err := s.service.Cancel(s.GetContext(), sub.ID, false)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}
