package service

import (
	"context"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/domain/plan"
	"github.com/joemash/enhanced-subscriptions/internal/domain/retry"
	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// LifecycleService drives subscriptions through their billing state
// machine. Every transition for a given subscription runs under that
// subscription's lock, so concurrent sweeps and operator actions
// serialize per subscription and each processing pass is idempotent.
type LifecycleService interface {
	CreateSubscription(ctx context.Context, customerID, planCostID string) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error)

	// ProcessNew attempts first charges for pending subscriptions.
	ProcessNew(ctx context.Context) error
	// ProcessDue renews active subscriptions whose BillingNext has
	// arrived.
	ProcessDue(ctx context.Context) error
	// ProcessExpired expires past-due subscriptions whose grace deadline
	// has passed.
	ProcessExpired(ctx context.Context) error
	// ProcessAll runs a full billing pass: due renewals first, then new
	// activations, then grace expiries. One subscription's failure never
	// stops the pass.
	ProcessAll(ctx context.Context) error

	// Cancel terminates the subscription. Cancellation always succeeds
	// for a cancellable subscription; a failed proration refund is
	// reported back and scheduled for retry, but the subscription is
	// cancelled regardless.
	Cancel(ctx context.Context, subscriptionID string, prorate bool) error

	RetryExecutor
}

type lifecycleService struct {
	ServiceParams
	walletSvc      WalletService
	entitlementSvc EntitlementService
	retrySvc       RetryService
	locks          *lockRegistry
}

// NewLifecycleService wires the lifecycle and registers it as the retry
// executor on the given RetryService.
func NewLifecycleService(params ServiceParams, retrySvc RetryService) LifecycleService {
	s := &lifecycleService{
		ServiceParams:  params,
		walletSvc:      NewWalletService(params),
		entitlementSvc: NewEntitlementService(params),
		retrySvc:       retrySvc,
		locks:          newLockRegistry(),
	}
	retrySvc.BindExecutor(s)
	return s
}

func (s *lifecycleService) CreateSubscription(ctx context.Context, customerID, planCostID string) (*subscription.Subscription, error) {
	if _, err := s.CustomerRepo.Get(ctx, customerID); err != nil {
		return nil, err
	}
	cost, err := s.PlanRepo.GetCost(ctx, planCostID)
	if err != nil {
		return nil, err
	}

	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         customerID,
		PlanID:             cost.PlanID,
		PlanCostID:         cost.ID,
		SubscriptionStatus: types.SubscriptionStatusPending,
		BillingStart:       time.Now().UTC(),
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := s.SubscriptionRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.WithContext(ctx).Infow("created subscription",
		"subscription_id", sub.ID,
		"customer_id", customerID,
		"plan_id", cost.PlanID,
		"plan_cost_id", cost.ID,
	)
	return sub, nil
}

func (s *lifecycleService) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.SubscriptionRepo.Get(ctx, id)
}

func (s *lifecycleService) ProcessNew(ctx context.Context) error {
	subs, err := s.SubscriptionRepo.List(ctx, &types.SubscriptionFilter{
		Statuses: []types.SubscriptionStatus{types.SubscriptionStatusPending},
	})
	if err != nil {
		return err
	}
	s.forEachSubscription(ctx, subs, "activation", s.activate)
	return nil
}

func (s *lifecycleService) ProcessDue(ctx context.Context) error {
	now := time.Now().UTC()
	subs, err := s.SubscriptionRepo.List(ctx, &types.SubscriptionFilter{
		Statuses:          []types.SubscriptionStatus{types.SubscriptionStatusActive},
		BillingNextBefore: &now,
	})
	if err != nil {
		return err
	}
	s.forEachSubscription(ctx, subs, "renewal", s.renew)
	return nil
}

func (s *lifecycleService) ProcessExpired(ctx context.Context) error {
	now := time.Now().UTC()
	subs, err := s.SubscriptionRepo.List(ctx, &types.SubscriptionFilter{
		Statuses:         []types.SubscriptionStatus{types.SubscriptionStatusPastDue},
		GraceUntilBefore: &now,
	})
	if err != nil {
		return err
	}
	s.forEachSubscription(ctx, subs, "expiry", s.expire)
	return nil
}

// ProcessAll orders the sweeps so a subscription due today is renewed
// before the expiry sweep can see it as past due.
func (s *lifecycleService) ProcessAll(ctx context.Context) error {
	if err := s.ProcessDue(ctx); err != nil {
		return err
	}
	if err := s.ProcessNew(ctx); err != nil {
		return err
	}
	return s.ProcessExpired(ctx)
}

// forEachSubscription runs fn over the batch on a bounded worker pool.
// Errors are logged per subscription; the batch always completes.
func (s *lifecycleService) forEachSubscription(ctx context.Context, subs []*subscription.Subscription, op string, fn func(ctx context.Context, id string) error) {
	workers := s.Config.Billing.SweepWorkers
	if workers < 1 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	for _, sub := range subs {
		subID := sub.ID
		p.Go(func() {
			if err := fn(ctx, subID); err != nil {
				s.Logger.WithContext(ctx).Errorw("billing pass item failed",
					"operation", op,
					"subscription_id", subID,
					"error", err,
				)
			}
		})
	}
	p.Wait()
}

// activate performs the first charge for a pending subscription. It
// re-reads under the lock so a concurrent pass that already activated
// the subscription turns this call into a no-op.
func (s *lifecycleService) activate(ctx context.Context, subscriptionID string) error {
	unlock := s.locks.lock(subscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPending {
		return nil
	}

	inFlight, err := s.retrySvc.HasUnresolved(ctx, sub.ID, types.RetryOperationActivation)
	if err != nil {
		return err
	}
	if inFlight {
		// The retry coordinator owns this charge now.
		return nil
	}

	p, cost, err := s.planAndCost(ctx, sub)
	if err != nil {
		return err
	}

	tx, chargeErr := s.charge(ctx, sub, cost.Amount, "subscription activation")
	if chargeErr != nil {
		if _, schedErr := s.retrySvc.ScheduleFailure(ctx, FailureInput{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Operation:      types.RetryOperationActivation,
			Strategy:       p.RetryStrategy,
			Amount:         cost.Amount,
			Cause:          chargeErr,
		}); schedErr != nil {
			return schedErr
		}
		return chargeErr
	}

	return s.markActive(ctx, sub, cost, time.Now().UTC(), tx)
}

// renew charges an active subscription for its next period plus any
// metered usage from the period being closed.
func (s *lifecycleService) renew(ctx context.Context, subscriptionID string) error {
	unlock := s.locks.lock(subscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sub.SubscriptionStatus != types.SubscriptionStatusActive || sub.BillingNext == nil || sub.BillingNext.After(now) {
		return nil
	}

	inFlight, err := s.retrySvc.HasUnresolved(ctx, sub.ID, types.RetryOperationRenewal)
	if err != nil {
		return err
	}
	if inFlight {
		return nil
	}

	p, cost, err := s.planAndCost(ctx, sub)
	if err != nil {
		return err
	}

	amount := cost.Amount
	var charges []UsageCharge
	if p.IsFeatureBased {
		var usageTotal decimal.Decimal
		charges, usageTotal, err = s.entitlementSvc.CalculateCharges(ctx, sub.ID)
		if err != nil {
			return err
		}
		amount = amount.Add(usageTotal)
	}

	tx, chargeErr := s.charge(ctx, sub, amount, "subscription renewal")
	if chargeErr != nil {
		return s.handleRenewalFailure(ctx, sub, p, amount, chargeErr)
	}

	return s.completeRenewal(ctx, sub, cost, tx, charges)
}

// completeRenewal advances the billing anchor from the due timestamp,
// not from now, so a sweep that runs late does not drift the schedule.
func (s *lifecycleService) completeRenewal(ctx context.Context, sub *subscription.Subscription, cost *plan.PlanCost, tx *wallet.Transaction, charges []UsageCharge) error {
	next, err := cost.NextBillingDate(*sub.BillingNext)
	if err != nil {
		return err
	}

	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.BillingNext = &next
	sub.GraceUntil = nil
	sub.UpdatedAt = time.Now().UTC()
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	// Counters come down by the billed snapshot rather than to zero, so
	// usage recorded while the charge was in flight is carried into the
	// next period instead of being wiped unbilled.
	if len(charges) > 0 {
		if err := s.entitlementSvc.SettlePeriodUsage(ctx, sub.ID, charges); err != nil {
			return err
		}
	}

	s.Logger.WithContext(ctx).Infow("renewed subscription",
		"subscription_id", sub.ID,
		"billing_next", next,
		"transaction_id", tx.ID,
		"amount", tx.Amount,
	)
	return nil
}

func (s *lifecycleService) handleRenewalFailure(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, amount decimal.Decimal, chargeErr error) error {
	now := time.Now().UTC()

	if p.GracePeriodDays > 0 {
		graceUntil := now.AddDate(0, 0, p.GracePeriodDays)
		sub.SubscriptionStatus = types.SubscriptionStatusPastDue
		sub.GraceUntil = &graceUntil
		sub.UpdatedAt = now
		if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
			return err
		}
		s.entitlementSvc.InvalidateAccessCache(ctx, sub.ID)

		if _, err := s.retrySvc.ScheduleFailure(ctx, FailureInput{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Operation:      types.RetryOperationRenewal,
			Strategy:       p.RetryStrategy,
			Amount:         amount,
			Cause:          chargeErr,
		}); err != nil {
			return err
		}

		s.Logger.WithContext(ctx).Warnw("renewal charge failed, entering grace period",
			"subscription_id", sub.ID,
			"grace_until", graceUntil,
			"error", chargeErr,
		)
		return chargeErr
	}

	// No grace period configured: the failed renewal expires the
	// subscription on the spot.
	if err := s.markExpired(ctx, sub, now); err != nil {
		return err
	}
	s.Logger.WithContext(ctx).Warnw("renewal charge failed, subscription expired",
		"subscription_id", sub.ID,
		"error", chargeErr,
	)
	return chargeErr
}

// expire finalizes a past-due subscription whose grace deadline passed.
// past_due is the only state that expires this way; a subscription never
// jumps from active to expired without passing through it.
func (s *lifecycleService) expire(ctx context.Context, subscriptionID string) error {
	unlock := s.locks.lock(subscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sub.SubscriptionStatus != types.SubscriptionStatusPastDue || sub.GraceUntil == nil || sub.GraceUntil.After(now) {
		return nil
	}
	return s.markExpired(ctx, sub, now)
}

func (s *lifecycleService) markExpired(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	sub.SubscriptionStatus = types.SubscriptionStatusExpired
	sub.GraceUntil = nil
	sub.UpdatedAt = now
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	// Further automatic re-attempts are pointless; the records stay
	// visible in the failed report until an operator resolves them.
	if err := s.retrySvc.ExhaustForSubscription(ctx, sub.ID); err != nil {
		return err
	}
	s.entitlementSvc.InvalidateAccessCache(ctx, sub.ID)

	s.Logger.WithContext(ctx).Infow("expired subscription",
		"subscription_id", sub.ID,
	)
	return nil
}

func (s *lifecycleService) markActive(ctx context.Context, sub *subscription.Subscription, cost *plan.PlanCost, chargedAt time.Time, tx *wallet.Transaction) error {
	next, err := cost.NextBillingDate(chargedAt)
	if err != nil {
		return err
	}

	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.BillingNext = &next
	sub.GraceUntil = nil
	sub.UpdatedAt = chargedAt
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.entitlementSvc.InvalidateAccessCache(ctx, sub.ID)
	s.Logger.WithContext(ctx).Infow("activated subscription",
		"subscription_id", sub.ID,
		"billing_next", next,
		"transaction_id", tx.ID,
	)
	return nil
}

func (s *lifecycleService) Cancel(ctx context.Context, subscriptionID string, prorate bool) error {
	unlock := s.locks.lock(subscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus.IsTerminal() {
		return ierr.NewError("subscription already terminal").
			WithHint("Expired or cancelled subscriptions cannot be cancelled").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	wasActive := sub.SubscriptionStatus == types.SubscriptionStatusActive
	now := time.Now().UTC()

	// Cancellation is unconditional: the status flips before any refund
	// is attempted so a wallet failure can never leave the customer
	// subscribed.
	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.GraceUntil = nil
	sub.UpdatedAt = now
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	if err := s.retrySvc.ExhaustForSubscription(ctx, sub.ID); err != nil {
		return err
	}
	s.entitlementSvc.InvalidateAccessCache(ctx, sub.ID)
	s.Logger.WithContext(ctx).Infow("cancelled subscription",
		"subscription_id", sub.ID,
		"prorate", prorate,
	)

	// Past-due subscriptions already owe for the period; only an active
	// subscription has unused paid time to return.
	if !prorate || !wasActive {
		return nil
	}
	return s.prorationRefund(ctx, sub, now)
}

// prorationRefund returns the unused share of the current period. The
// unused fraction is measured against the last period charge, so the
// refunded total can never exceed what was actually paid.
func (s *lifecycleService) prorationRefund(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	if sub.BillingNext == nil || !sub.BillingNext.After(now) {
		return nil
	}

	lastCharge, err := s.lastPeriodCharge(ctx, sub.ID)
	if err != nil {
		return err
	}
	if lastCharge == nil {
		return nil
	}

	periodStart := lastCharge.CreatedAt
	period := sub.BillingNext.Sub(periodStart)
	if period <= 0 {
		return nil
	}

	unused := decimal.NewFromFloat(sub.BillingNext.Sub(now).Seconds()).
		Div(decimal.NewFromFloat(period.Seconds()))
	if unused.GreaterThan(decimal.NewFromInt(1)) {
		unused = decimal.NewFromInt(1)
	}

	refundable := types.RoundAmount(lastCharge.Amount.Mul(unused))
	if !refundable.IsPositive() {
		return nil
	}

	_, refundErr := s.walletSvc.Refund(ctx, lastCharge.ID, refundable, types.TransactionReasonCancellationProration, "cancellation proration")
	if refundErr == nil {
		s.Logger.WithContext(ctx).Infow("issued proration refund",
			"subscription_id", sub.ID,
			"amount", refundable,
			"original_transaction_id", lastCharge.ID,
		)
		return nil
	}

	// The subscription stays cancelled; the refund is handed to the
	// retry coordinator and the failure reported to the caller.
	if _, schedErr := s.retrySvc.ScheduleFailure(ctx, FailureInput{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Operation:      types.RetryOperationRefund,
		Strategy:       types.RetryStrategyImmediate,
		Amount:         refundable,
		ReferenceID:    lastCharge.ID,
		Cause:          refundErr,
	}); schedErr != nil {
		return schedErr
	}
	return refundErr
}

// lastPeriodCharge returns the most recent completed subscription charge
// for the subscription, or nil when it never paid.
func (s *lifecycleService) lastPeriodCharge(ctx context.Context, subscriptionID string) (*wallet.Transaction, error) {
	txns, err := s.WalletRepo.ListTransactionsByReference(ctx, types.WalletTxReferenceTypeSubscription, subscriptionID)
	if err != nil {
		return nil, err
	}

	charges := lo.Filter(txns, func(tx *wallet.Transaction, _ int) bool {
		return tx.Type == types.TransactionTypeDebit && tx.TxStatus == types.TransactionStatusCompleted
	})
	if len(charges) == 0 {
		return nil, nil
	}

	last := charges[0]
	for _, tx := range charges[1:] {
		if tx.CreatedAt.After(last.CreatedAt) {
			last = tx
		}
	}
	return last, nil
}

// ExecuteRetry re-attempts the failed operation a retry record names. A
// nil return resolves the record.
func (s *lifecycleService) ExecuteRetry(ctx context.Context, record *retry.RetryRecord) error {
	switch record.Operation {
	case types.RetryOperationActivation:
		return s.retryActivation(ctx, record)
	case types.RetryOperationRenewal:
		return s.retryRenewal(ctx, record)
	case types.RetryOperationRefund:
		return s.retryRefund(ctx, record)
	}
	return ierr.NewError("unknown retry operation").
		WithReportableDetails(map[string]any{
			"operation": record.Operation,
		}).
		Mark(ierr.ErrSystem)
}

func (s *lifecycleService) retryActivation(ctx context.Context, record *retry.RetryRecord) error {
	unlock := s.locks.lock(record.SubscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, record.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPending {
		// Already activated or terminated elsewhere; nothing to re-attempt.
		return nil
	}

	_, cost, err := s.planAndCost(ctx, sub)
	if err != nil {
		return err
	}

	tx, chargeErr := s.charge(ctx, sub, record.Amount, "subscription activation")
	if chargeErr != nil {
		return chargeErr
	}
	return s.markActive(ctx, sub, cost, time.Now().UTC(), tx)
}

// retryRenewal recovers a past-due subscription: a successful charge
// returns it to active and advances the billing anchor from the missed
// due timestamp.
func (s *lifecycleService) retryRenewal(ctx context.Context, record *retry.RetryRecord) error {
	unlock := s.locks.lock(record.SubscriptionID)
	defer unlock()

	sub, err := s.SubscriptionRepo.Get(ctx, record.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPastDue {
		return nil
	}

	p, cost, err := s.planAndCost(ctx, sub)
	if err != nil {
		return err
	}

	// The amount is recomputed rather than replayed from the retry
	// record: usage kept accruing during the grace window, and the
	// settled quantities must match what is charged now.
	amount := cost.Amount
	var charges []UsageCharge
	if p.IsFeatureBased {
		var usageTotal decimal.Decimal
		charges, usageTotal, err = s.entitlementSvc.CalculateCharges(ctx, sub.ID)
		if err != nil {
			return err
		}
		amount = amount.Add(usageTotal)
	}

	tx, chargeErr := s.charge(ctx, sub, amount, "subscription renewal")
	if chargeErr != nil {
		return chargeErr
	}
	return s.completeRenewal(ctx, sub, cost, tx, charges)
}

func (s *lifecycleService) retryRefund(ctx context.Context, record *retry.RetryRecord) error {
	_, err := s.walletSvc.Refund(ctx, record.ReferenceID, record.Amount, types.TransactionReasonCancellationProration, "cancellation proration")
	if err != nil && ierr.IsOverRefund(err) {
		// A previous attempt landed after all; the debt is settled.
		return nil
	}
	return err
}

func (s *lifecycleService) planAndCost(ctx context.Context, sub *subscription.Subscription) (*plan.Plan, *plan.PlanCost, error) {
	p, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	cost, err := s.PlanRepo.GetCost(ctx, sub.PlanCostID)
	if err != nil {
		return nil, nil, err
	}
	return p, cost, nil
}

// charge debits the customer's wallet for a subscription fee. A zero
// amount short-circuits with no transaction; free periods do not touch
// the ledger.
func (s *lifecycleService) charge(ctx context.Context, sub *subscription.Subscription, amount decimal.Decimal, description string) (*wallet.Transaction, error) {
	if !amount.IsPositive() {
		return &wallet.Transaction{Amount: decimal.Zero, TxStatus: types.TransactionStatusCompleted}, nil
	}

	w, err := s.WalletRepo.GetWalletByCustomerID(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}

	return s.walletSvc.Debit(ctx, &wallet.WalletOperation{
		WalletID:      w.ID,
		Amount:        amount,
		Reason:        types.TransactionReasonSubscriptionPayment,
		ReferenceType: types.WalletTxReferenceTypeSubscription,
		ReferenceID:   sub.ID,
		Description:   description,
	})
}
