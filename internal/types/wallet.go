package types

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/samber/lo"
)

// WalletStatus represents the current state of a wallet
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen"
	WalletStatusClosed WalletStatus = "closed"
)

func (s WalletStatus) Validate() error {
	allowed := []WalletStatus{
		WalletStatusActive,
		WalletStatusFrozen,
		WalletStatusClosed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid wallet status").
			WithHint("Invalid wallet status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"status":  s,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TransactionType is the direction of a wallet transaction. Amounts are
// stored positive; the type carries the sign.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

func (t TransactionType) Validate() error {
	allowed := []TransactionType{
		TransactionTypeCredit,
		TransactionTypeDebit,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid transaction type").
			WithHint("Invalid transaction type").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"type":    t,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TransactionStatus tracks settlement of a wallet transaction. Only
// completed transactions count towards the balance.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// TransactionReason represents the business reason for a wallet transaction
type TransactionReason string

const (
	TransactionReasonDeposit               TransactionReason = "deposit"
	TransactionReasonSubscriptionPayment   TransactionReason = "subscription_payment"
	TransactionReasonRefund                TransactionReason = "refund"
	TransactionReasonCancellationProration TransactionReason = "cancellation_proration"
)

func (t TransactionReason) Validate() error {
	allowed := []TransactionReason{
		TransactionReasonDeposit,
		TransactionReasonSubscriptionPayment,
		TransactionReasonRefund,
		TransactionReasonCancellationProration,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid transaction reason").
			WithHint("Invalid transaction reason").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"reason":  t,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsRefundReason reports whether the reason offsets an earlier debit.
func (t TransactionReason) IsRefundReason() bool {
	return t == TransactionReasonRefund || t == TransactionReasonCancellationProration
}

// WalletTxReferenceType identifies what a wallet transaction points back to.
type WalletTxReferenceType string

const (
	// WalletTxReferenceTypeSubscription links a charge to the subscription
	// it billed.
	WalletTxReferenceTypeSubscription WalletTxReferenceType = "subscription"
	// WalletTxReferenceTypeTransaction links a refund to the debit it
	// reverses.
	WalletTxReferenceTypeTransaction WalletTxReferenceType = "transaction"
	// WalletTxReferenceTypeExternal is used for caller supplied reference
	// IDs, e.g. a deposit initiated outside the engine.
	WalletTxReferenceTypeExternal WalletTxReferenceType = "external"
)
