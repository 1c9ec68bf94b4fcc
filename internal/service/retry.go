package service

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joemash/enhanced-subscriptions/internal/domain/retry"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// RetryExecutor re-attempts the failed operation a retry record names.
// The lifecycle service implements it; the indirection exists because the
// lifecycle also schedules failures through RetryService.
type RetryExecutor interface {
	ExecuteRetry(ctx context.Context, record *retry.RetryRecord) error
}

// FailureInput describes a failed billing operation to be tracked for
// recovery.
type FailureInput struct {
	SubscriptionID string
	CustomerID     string
	Operation      types.RetryOperation
	Strategy       types.RetryStrategy
	// Amount and ReferenceID carry what a refund re-attempt needs.
	Amount      decimal.Decimal
	ReferenceID string
	Cause       error
}

// CustomerFailures is one customer's slice of the failed report.
type CustomerFailures struct {
	CustomerID string               `json:"customer_id"`
	Count      int                  `json:"count"`
	Records    []*retry.RetryRecord `json:"records"`
}

// FailedReport lists every unresolved failure grouped per customer.
// Exhausted records stay in the report until an operator resolves them;
// they never silently disappear.
type FailedReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Customers   []CustomerFailures `json:"customers"`
}

type RetryService interface {
	// BindExecutor wires the component that performs re-attempts. Must be
	// called once at startup before any processing.
	BindExecutor(executor RetryExecutor)

	// ScheduleFailure records a failed operation and computes its first
	// automatic re-attempt per the strategy. When an unresolved record
	// for the same subscription and operation already exists it is
	// updated instead of duplicated.
	ScheduleFailure(ctx context.Context, in FailureInput) (*retry.RetryRecord, error)
	// ProcessPendingRetries runs every due record through the executor.
	// Individual failures reschedule or exhaust their record; they never
	// abort the pass.
	ProcessPendingRetries(ctx context.Context) error
	// RetryNow re-attempts one record immediately, regardless of its
	// schedule. This is the operator path for manual and exhausted
	// records.
	RetryNow(ctx context.Context, recordID string) error
	GetRetryRecord(ctx context.Context, id string) (*retry.RetryRecord, error)
	GetFailedReport(ctx context.Context) (*FailedReport, error)
	// HasUnresolved reports whether recovery is already in flight for the
	// subscription and operation. The lifecycle consults it before
	// charging so a scheduler sweep and a retry sweep cannot double-bill.
	HasUnresolved(ctx context.Context, subscriptionID string, operation types.RetryOperation) (bool, error)
	// ExhaustForSubscription force-exhausts every unresolved record for a
	// subscription. Called when the subscription reaches a terminal
	// state and further re-attempts would be pointless.
	ExhaustForSubscription(ctx context.Context, subscriptionID string) error
}

type retryService struct {
	ServiceParams
	executor RetryExecutor
}

func NewRetryService(params ServiceParams) RetryService {
	return &retryService{ServiceParams: params}
}

func (s *retryService) BindExecutor(executor RetryExecutor) {
	s.executor = executor
}

func (s *retryService) ScheduleFailure(ctx context.Context, in FailureInput) (*retry.RetryRecord, error) {
	if err := in.Operation.Validate(); err != nil {
		return nil, err
	}
	if err := in.Strategy.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if existing, err := s.findUnresolved(ctx, in.SubscriptionID, in.Operation); err != nil {
		return nil, err
	} else if existing != nil {
		existing.RecordAttempt(now, retry.AttemptOutcomeFailed, in.Cause)
		if in.Cause != nil {
			existing.LastError = in.Cause.Error()
		}
		existing.AttemptCount++
		s.reschedule(existing, now)
		existing.UpdatedAt = now
		if err := s.RetryRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	record := &retry.RetryRecord{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RETRY_RECORD),
		Code:           types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_RETRY_RECORD),
		SubscriptionID: in.SubscriptionID,
		CustomerID:     in.CustomerID,
		Operation:      in.Operation,
		Strategy:       in.Strategy,
		AttemptCount:   1,
		Amount:         in.Amount,
		ReferenceID:    in.ReferenceID,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	if in.Cause != nil {
		record.LastError = in.Cause.Error()
	}
	record.RecordAttempt(now, retry.AttemptOutcomeFailed, in.Cause)
	s.reschedule(record, now)

	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := s.RetryRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.Logger.WithContext(ctx).Warnw("scheduled billing failure for retry",
		"retry_code", record.Code,
		"subscription_id", in.SubscriptionID,
		"operation", in.Operation,
		"strategy", in.Strategy,
		"next_attempt_at", record.NextAttemptAt,
		"status", record.RetryStatus,
	)
	return record, nil
}

// reschedule sets the record's status and next attempt time from its
// strategy and attempt count. Past the strategy's attempt budget, or
// under the manual strategy, the record becomes exhausted and waits for
// an operator.
func (s *retryService) reschedule(record *retry.RetryRecord, now time.Time) {
	budget := s.attemptBudget(record.Strategy)
	if budget == 0 || record.AttemptCount >= budget {
		record.RetryStatus = types.RetryStatusExhausted
		record.NextAttemptAt = nil
		return
	}

	next := now.Add(s.delayFor(record.Strategy, record.AttemptCount))
	record.RetryStatus = types.RetryStatusScheduled
	record.NextAttemptAt = &next
}

// attemptBudget is the total attempts a strategy allows, counting the
// original failure. Zero means no automatic attempts at all.
func (s *retryService) attemptBudget(strategy types.RetryStrategy) int {
	switch strategy {
	case types.RetryStrategyImmediate:
		return s.Config.Retry.ImmediateMaxAttempts
	case types.RetryStrategyManual:
		return 0
	default:
		return s.Config.Retry.MaxAttempts
	}
}

// delayFor computes the wait before the next attempt. attemptCount is
// the number of failures so far.
func (s *retryService) delayFor(strategy types.RetryStrategy, attemptCount int) time.Duration {
	switch strategy {
	case types.RetryStrategyImmediate:
		return 0
	case types.RetryStrategyFixed:
		return s.Config.Retry.FixedInterval
	case types.RetryStrategyExponential:
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.Config.Retry.BaseInterval
		bo.RandomizationFactor = 0
		bo.Multiplier = 2
		bo.MaxInterval = s.Config.Retry.MaxInterval
		bo.MaxElapsedTime = 0
		bo.Reset()

		delay := bo.NextBackOff()
		for i := 1; i < attemptCount; i++ {
			delay = bo.NextBackOff()
		}
		return delay
	default:
		return 0
	}
}

func (s *retryService) findUnresolved(ctx context.Context, subscriptionID string, operation types.RetryOperation) (*retry.RetryRecord, error) {
	records, err := s.RetryRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if !r.Resolved && r.Operation == operation {
			return r, nil
		}
	}
	return nil, nil
}

func (s *retryService) ProcessPendingRetries(ctx context.Context) error {
	if s.executor == nil {
		return ierr.NewError("retry executor not bound").
			WithHint("BindExecutor must be called before processing retries").
			Mark(ierr.ErrSystem)
	}

	now := time.Now().UTC()
	pending, err := s.RetryRepo.ListPending(ctx, now)
	if err != nil {
		return err
	}

	for _, record := range pending {
		if err := s.attempt(ctx, record); err != nil {
			s.Logger.WithContext(ctx).Errorw("retry attempt errored",
				"retry_code", record.Code,
				"subscription_id", record.SubscriptionID,
				"error", err,
			)
		}
	}
	return nil
}

// attempt runs one record through the executor and settles its outcome.
// Infrastructure errors from the repository are returned; a failed
// business re-attempt only reschedules the record.
func (s *retryService) attempt(ctx context.Context, record *retry.RetryRecord) error {
	now := time.Now().UTC()
	record.RetryStatus = types.RetryStatusAttempting
	record.UpdatedAt = now
	if err := s.RetryRepo.Update(ctx, record); err != nil {
		return err
	}

	execErr := s.executor.ExecuteRetry(ctx, record)
	now = time.Now().UTC()

	if execErr == nil {
		record.RecordAttempt(now, retry.AttemptOutcomeSucceeded, nil)
		record.Resolved = true
		record.RetryStatus = types.RetryStatusResolved
		record.NextAttemptAt = nil
		record.UpdatedAt = now
		if err := s.RetryRepo.Update(ctx, record); err != nil {
			return err
		}
		s.Logger.WithContext(ctx).Infow("retry succeeded",
			"retry_code", record.Code,
			"subscription_id", record.SubscriptionID,
			"operation", record.Operation,
			"attempt_count", record.AttemptCount,
		)
		return nil
	}

	record.RecordAttempt(now, retry.AttemptOutcomeFailed, execErr)
	record.LastError = execErr.Error()
	record.AttemptCount++
	s.reschedule(record, now)
	record.UpdatedAt = now
	if err := s.RetryRepo.Update(ctx, record); err != nil {
		return err
	}

	s.Logger.WithContext(ctx).Warnw("retry failed",
		"retry_code", record.Code,
		"subscription_id", record.SubscriptionID,
		"operation", record.Operation,
		"attempt_count", record.AttemptCount,
		"status", record.RetryStatus,
		"error", execErr,
	)
	return nil
}

func (s *retryService) RetryNow(ctx context.Context, recordID string) error {
	if s.executor == nil {
		return ierr.NewError("retry executor not bound").
			WithHint("BindExecutor must be called before processing retries").
			Mark(ierr.ErrSystem)
	}

	record, err := s.RetryRepo.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Resolved {
		return ierr.NewError("retry record already resolved").
			WithHint("A resolved record cannot be retried").
			WithReportableDetails(map[string]any{
				"retry_code": record.Code,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return s.attempt(ctx, record)
}

func (s *retryService) GetRetryRecord(ctx context.Context, id string) (*retry.RetryRecord, error) {
	return s.RetryRepo.Get(ctx, id)
}

func (s *retryService) GetFailedReport(ctx context.Context) (*FailedReport, error) {
	unresolved, err := s.RetryRepo.ListUnresolved(ctx)
	if err != nil {
		return nil, err
	}

	grouped := lo.GroupBy(unresolved, func(r *retry.RetryRecord) string {
		return r.CustomerID
	})

	// Sorted by customer so successive reports diff cleanly in alerts.
	customerIDs := lo.Keys(grouped)
	sort.Strings(customerIDs)

	report := &FailedReport{GeneratedAt: time.Now().UTC()}
	for _, customerID := range customerIDs {
		records := grouped[customerID]
		report.Customers = append(report.Customers, CustomerFailures{
			CustomerID: customerID,
			Count:      len(records),
			Records:    records,
		})
	}
	return report, nil
}

func (s *retryService) HasUnresolved(ctx context.Context, subscriptionID string, operation types.RetryOperation) (bool, error) {
	record, err := s.findUnresolved(ctx, subscriptionID, operation)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func (s *retryService) ExhaustForSubscription(ctx context.Context, subscriptionID string) error {
	records, err := s.RetryRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, record := range records {
		if record.Resolved || record.RetryStatus == types.RetryStatusExhausted {
			continue
		}
		record.RetryStatus = types.RetryStatusExhausted
		record.NextAttemptAt = nil
		record.UpdatedAt = now
		if err := s.RetryRepo.Update(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
