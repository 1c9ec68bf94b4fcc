package service

import (
	"context"

	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// applyTxMaxRetries bounds the optimistic retry loop for concurrent
// wallet mutations.
const applyTxMaxRetries = 5

type WalletService interface {
	CreateWallet(ctx context.Context, customerID, currency string) (*wallet.Wallet, error)
	GetWallet(ctx context.Context, id string) (*wallet.Wallet, error)
	GetWalletByCustomerID(ctx context.Context, customerID string) (*wallet.Wallet, error)
	UpdateWalletStatus(ctx context.Context, id string, status types.WalletStatus) error

	// Deposit credits the wallet. Deposits are accepted while frozen so a
	// customer can top up and recover a past-due subscription.
	Deposit(ctx context.Context, op *wallet.WalletOperation) (*wallet.Transaction, error)
	// Debit charges the wallet. It fails without writing a transaction
	// when the balance is insufficient or the wallet cannot accept
	// debits.
	Debit(ctx context.Context, op *wallet.WalletOperation) (*wallet.Transaction, error)
	// Refund credits back part or all of an earlier debit. The refunded
	// total across all refunds of one debit can never exceed the debit's
	// amount.
	Refund(ctx context.Context, originalTxID string, amount decimal.Decimal, reason types.TransactionReason, description string) (*wallet.Transaction, error)

	GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	GetTransaction(ctx context.Context, id string) (*wallet.Transaction, error)
	ListTransactions(ctx context.Context, walletID string) ([]*wallet.Transaction, error)
	// RecomputedBalance folds the ledger from scratch. It always equals
	// the stored balance; it exists for audits and invariant checks.
	RecomputedBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

type walletService struct {
	ServiceParams
}

func NewWalletService(params ServiceParams) WalletService {
	return &walletService{ServiceParams: params}
}

func (s *walletService) CreateWallet(ctx context.Context, customerID, currency string) (*wallet.Wallet, error) {
	if _, err := s.CustomerRepo.Get(ctx, customerID); err != nil {
		return nil, err
	}

	w := &wallet.Wallet{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WALLET),
		CustomerID:   customerID,
		Currency:     currency,
		Balance:      decimal.Zero,
		WalletStatus: types.WalletStatusActive,
		BaseModel:    types.GetDefaultBaseModel(ctx),
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if err := s.WalletRepo.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	s.Logger.WithContext(ctx).Infow("created wallet",
		"wallet_id", w.ID,
		"customer_id", customerID,
		"currency", currency,
	)
	return w, nil
}

func (s *walletService) GetWallet(ctx context.Context, id string) (*wallet.Wallet, error) {
	return s.WalletRepo.GetWalletByID(ctx, id)
}

func (s *walletService) GetWalletByCustomerID(ctx context.Context, customerID string) (*wallet.Wallet, error) {
	return s.WalletRepo.GetWalletByCustomerID(ctx, customerID)
}

func (s *walletService) UpdateWalletStatus(ctx context.Context, id string, status types.WalletStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	if _, err := s.WalletRepo.GetWalletByID(ctx, id); err != nil {
		return err
	}
	return s.WalletRepo.UpdateWalletStatus(ctx, id, status)
}

func (s *walletService) Deposit(ctx context.Context, op *wallet.WalletOperation) (*wallet.Transaction, error) {
	op.Type = types.TransactionTypeCredit
	return s.processOperation(ctx, op, nil)
}

func (s *walletService) Debit(ctx context.Context, op *wallet.WalletOperation) (*wallet.Transaction, error) {
	op.Type = types.TransactionTypeDebit
	return s.processOperation(ctx, op, nil)
}

func (s *walletService) Refund(ctx context.Context, originalTxID string, amount decimal.Decimal, reason types.TransactionReason, description string) (*wallet.Transaction, error) {
	if !reason.IsRefundReason() {
		return nil, ierr.NewError("invalid refund reason").
			WithHint("Refunds must use a refund or proration reason").
			WithReportableDetails(map[string]any{
				"reason": reason,
			}).
			Mark(ierr.ErrValidation)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ierr.NewError("refund amount must be positive").
			WithReportableDetails(map[string]any{
				"amount": amount,
			}).
			Mark(ierr.ErrValidation)
	}

	original, err := s.WalletRepo.GetTransactionByID(ctx, originalTxID)
	if err != nil {
		return nil, err
	}
	if original.Type != types.TransactionTypeDebit || original.TxStatus != types.TransactionStatusCompleted {
		return nil, ierr.NewError("transaction is not refundable").
			WithHint("Only completed debit transactions can be refunded").
			WithReportableDetails(map[string]any{
				"transaction_id": originalTxID,
				"type":           original.Type,
				"status":         original.TxStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	// The refundable remainder is revalidated on every attempt of the
	// optimistic loop: a concurrent refund of the same debit moves the
	// balance, surfaces here as a version conflict, and must fail the
	// re-check instead of landing a second time.
	guard := func(ctx context.Context) error {
		refunded, err := s.refundedTotal(ctx, originalTxID)
		if err != nil {
			return err
		}
		if refunded.Add(amount).GreaterThan(original.Amount) {
			return ierr.NewError("refund exceeds original charge").
				WithHint("The refunded total can never exceed the original debit").
				WithReportableDetails(map[string]any{
					"transaction_id":   originalTxID,
					"original_amount":  original.Amount,
					"already_refunded": refunded,
					"requested":        amount,
				}).
				Mark(ierr.ErrOverRefund)
		}
		return nil
	}

	return s.processOperation(ctx, &wallet.WalletOperation{
		WalletID:      original.WalletID,
		Type:          types.TransactionTypeCredit,
		Amount:        amount,
		Reason:        reason,
		ReferenceType: types.WalletTxReferenceTypeTransaction,
		ReferenceID:   originalTxID,
		Description:   description,
	}, guard)
}

// refundedTotal sums completed refund credits already pointing at the
// given debit.
func (s *walletService) refundedTotal(ctx context.Context, originalTxID string) (decimal.Decimal, error) {
	refunds, err := s.WalletRepo.ListTransactionsByReference(ctx, types.WalletTxReferenceTypeTransaction, originalTxID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, tx := range refunds {
		if tx.Type == types.TransactionTypeCredit && tx.TxStatus == types.TransactionStatusCompleted && tx.Reason.IsRefundReason() {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

// processOperation runs the optimistic loop: read the wallet, build the
// transaction against the observed balance, and ask the repository to
// apply it atomically. A version conflict means another writer moved the
// balance first; re-read and try again. The guard, when given, runs on
// every attempt so preconditions that depend on the ledger are
// re-checked after each conflict.
func (s *walletService) processOperation(ctx context.Context, op *wallet.WalletOperation, guard func(context.Context) error) (*wallet.Transaction, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < applyTxMaxRetries; attempt++ {
		if guard != nil {
			if err := guard(ctx); err != nil {
				return nil, err
			}
		}

		w, err := s.WalletRepo.GetWalletByID(ctx, op.WalletID)
		if err != nil {
			return nil, err
		}

		tx, err := s.buildTransaction(ctx, w, op)
		if err != nil {
			return nil, err
		}

		if err := s.WalletRepo.ApplyTransaction(ctx, tx); err != nil {
			if ierr.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.Logger.WithContext(ctx).Infow("applied wallet transaction",
			"wallet_id", w.ID,
			"transaction_id", tx.ID,
			"type", tx.Type,
			"amount", tx.Amount,
			"balance_after", tx.BalanceAfter,
			"reason", tx.Reason,
		)
		return tx, nil
	}

	return nil, ierr.WithError(lastErr).
		WithHint("Wallet is under heavy concurrent load; retry the operation").
		WithReportableDetails(map[string]any{
			"wallet_id": op.WalletID,
		}).
		Mark(ierr.ErrVersionConflict)
}

func (s *walletService) buildTransaction(ctx context.Context, w *wallet.Wallet, op *wallet.WalletOperation) (*wallet.Transaction, error) {
	if w.WalletStatus == types.WalletStatusClosed {
		return nil, ierr.NewError("wallet is closed").
			WithHint("A closed wallet accepts no operations").
			WithReportableDetails(map[string]any{
				"wallet_id": w.ID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	balanceAfter := w.Balance
	switch op.Type {
	case types.TransactionTypeCredit:
		balanceAfter = balanceAfter.Add(op.Amount)
	case types.TransactionTypeDebit:
		if !w.CanDebit() {
			return nil, ierr.NewError("wallet cannot accept debits").
				WithHint("The wallet is not active").
				WithReportableDetails(map[string]any{
					"wallet_id": w.ID,
					"status":    w.WalletStatus,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		if w.Balance.LessThan(op.Amount) {
			return nil, ierr.NewError("insufficient wallet balance").
				WithHint("The wallet does not hold enough funds for this debit").
				WithReportableDetails(map[string]any{
					"wallet_id": w.ID,
					"balance":   w.Balance,
					"amount":    op.Amount,
				}).
				Mark(ierr.ErrInsufficientFunds)
		}
		balanceAfter = balanceAfter.Sub(op.Amount)
	}

	return &wallet.Transaction{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WALLET_TRANSACTION),
		WalletID:      w.ID,
		Type:          op.Type,
		Amount:        op.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  balanceAfter,
		TxStatus:      types.TransactionStatusCompleted,
		Reason:        op.Reason,
		ReferenceType: op.ReferenceType,
		ReferenceID:   op.ReferenceID,
		Description:   op.Description,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}, nil
}

func (s *walletService) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	w, err := s.WalletRepo.GetWalletByID(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *walletService) GetTransaction(ctx context.Context, id string) (*wallet.Transaction, error) {
	return s.WalletRepo.GetTransactionByID(ctx, id)
}

func (s *walletService) ListTransactions(ctx context.Context, walletID string) ([]*wallet.Transaction, error) {
	return s.WalletRepo.ListTransactions(ctx, walletID)
}

// RecomputedBalance folds the completed ledger entries into a balance.
func (s *walletService) RecomputedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	txns, err := s.WalletRepo.ListTransactions(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for _, tx := range txns {
		if tx.TxStatus != types.TransactionStatusCompleted {
			continue
		}
		balance = balance.Add(tx.SignedAmount())
	}
	return balance, nil
}
