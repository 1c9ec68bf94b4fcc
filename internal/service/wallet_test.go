package service

import (
	"sync"
	"testing"

	"github.com/joemash/enhanced-subscriptions/internal/domain/customer"
	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/testutil"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type WalletServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  WalletService
	customer *customer.Customer
	wallet   *wallet.Wallet
}

func TestWalletService(t *testing.T) {
	suite.Run(t, new(WalletServiceSuite))
}

func (s *WalletServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewWalletService(testServiceParams(&s.BaseServiceTestSuite))

	s.customer = &customer.Customer{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER),
		ExternalID: "ext-1",
		Name:       "Test Customer",
		Email:      "customer@example.com",
		BaseModel:  types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().CustomerStore.Create(s.GetContext(), s.customer))

	w, err := s.service.CreateWallet(s.GetContext(), s.customer.ID, "usd")
	s.NoError(err)
	s.wallet = w
}

func (s *WalletServiceSuite) deposit(amount int64) *wallet.Transaction {
	tx, err := s.service.Deposit(s.GetContext(), &wallet.WalletOperation{
		WalletID: s.wallet.ID,
		Amount:   decimal.NewFromInt(amount),
		Reason:   types.TransactionReasonDeposit,
	})
	s.NoError(err)
	return tx
}

func (s *WalletServiceSuite) debit(amount int64) (*wallet.Transaction, error) {
	return s.service.Debit(s.GetContext(), &wallet.WalletOperation{
		WalletID: s.wallet.ID,
		Amount:   decimal.NewFromInt(amount),
		Reason:   types.TransactionReasonSubscriptionPayment,
	})
}

func (s *WalletServiceSuite) TestNewWalletStartsEmpty() {
	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.IsZero())
	s.Equal(types.WalletStatusActive, s.wallet.WalletStatus)
}

func (s *WalletServiceSuite) TestDepositCreatesLedgerEntry() {
	tx := s.deposit(100)

	s.Equal(types.TransactionTypeCredit, tx.Type)
	s.True(tx.BalanceBefore.IsZero())
	s.True(tx.BalanceAfter.Equal(decimal.NewFromInt(100)))

	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(decimal.NewFromInt(100)))
}

func (s *WalletServiceSuite) TestDebitReducesBalance() {
	s.deposit(100)
	tx, err := s.debit(40)
	s.NoError(err)
	s.True(tx.BalanceAfter.Equal(decimal.NewFromInt(60)))
}

func (s *WalletServiceSuite) TestInsufficientFundsLeavesLedgerUnchanged() {
	s.deposit(30)

	_, err := s.debit(40)
	s.Error(err)
	s.True(ierr.IsInsufficientFunds(err))

	// The failed debit must leave no trace: same balance, one
	// transaction (the deposit).
	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(decimal.NewFromInt(30)))

	txns, err := s.service.ListTransactions(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.Len(txns, 1)
}

func (s *WalletServiceSuite) TestBalanceEqualsSignedSumOfTransactions() {
	s.deposit(100)
	_, err := s.debit(25)
	s.NoError(err)
	s.deposit(10)
	_, err = s.debit(5)
	s.NoError(err)

	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	recomputed, err := s.service.RecomputedBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(recomputed), "balance %s vs ledger %s", balance, recomputed)
	s.True(balance.Equal(decimal.NewFromInt(80)))
}

func (s *WalletServiceSuite) TestPartialRefundsUpToOriginalAmount() {
	s.deposit(100)
	debitTx, err := s.debit(50)
	s.NoError(err)

	_, err = s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromInt(30), types.TransactionReasonRefund, "partial")
	s.NoError(err)

	// Exceeding the net remaining fails.
	_, err = s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromInt(30), types.TransactionReasonRefund, "too much")
	s.Error(err)
	s.True(ierr.IsOverRefund(err))

	// Refunding exactly the remainder succeeds.
	_, err = s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromInt(20), types.TransactionReasonRefund, "rest")
	s.NoError(err)

	// Fully refunded now; even a cent more is rejected.
	_, err = s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromFloat(0.01), types.TransactionReasonRefund, "over")
	s.Error(err)
	s.True(ierr.IsOverRefund(err))

	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(decimal.NewFromInt(100)))
}

func (s *WalletServiceSuite) TestRefundRejectsNonDebitOriginal() {
	depositTx := s.deposit(100)
	_, err := s.service.Refund(s.GetContext(), depositTx.ID, decimal.NewFromInt(10), types.TransactionReasonRefund, "bad")
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *WalletServiceSuite) TestRefundDoesNotMutateOriginal() {
	s.deposit(100)
	debitTx, err := s.debit(50)
	s.NoError(err)

	refundTx, err := s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromInt(50), types.TransactionReasonRefund, "full")
	s.NoError(err)
	s.NotEqual(debitTx.ID, refundTx.ID)
	s.Equal(types.TransactionTypeCredit, refundTx.Type)
	s.Equal(types.WalletTxReferenceTypeTransaction, refundTx.ReferenceType)
	s.Equal(debitTx.ID, refundTx.ReferenceID)

	original, err := s.service.GetTransaction(s.GetContext(), debitTx.ID)
	s.NoError(err)
	s.True(original.Amount.Equal(debitTx.Amount))
	s.Equal(debitTx.Type, original.Type)
}

func (s *WalletServiceSuite) TestFrozenWalletRejectsDebitAllowsDeposit() {
	s.deposit(100)
	s.NoError(s.service.UpdateWalletStatus(s.GetContext(), s.wallet.ID, types.WalletStatusFrozen))

	_, err := s.debit(10)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	// Deposits stay open so the customer can recover.
	s.deposit(10)
	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(decimal.NewFromInt(110)))
}

func (s *WalletServiceSuite) TestClosedWalletRejectsEverything() {
	s.NoError(s.service.UpdateWalletStatus(s.GetContext(), s.wallet.ID, types.WalletStatusClosed))

	_, err := s.service.Deposit(s.GetContext(), &wallet.WalletOperation{
		WalletID: s.wallet.ID,
		Amount:   decimal.NewFromInt(10),
		Reason:   types.TransactionReasonDeposit,
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

// Concurrent debits against one wallet must serialize: whatever subset
// succeeds, the final balance equals the signed ledger sum and never
// goes negative.
func (s *WalletServiceSuite) TestConcurrentDebitsKeepLedgerConsistent() {
	s.deposit(100)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = s.debit(10)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	s.Greater(succeeded, 0)

	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	recomputed, err := s.service.RecomputedBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)

	expected := decimal.NewFromInt(100 - int64(succeeded*10))
	s.True(balance.Equal(expected), "balance %s, %d debits succeeded", balance, succeeded)
	s.True(balance.Equal(recomputed))
	s.False(balance.IsNegative())
}

// Two full refunds of the same debit racing each other: exactly one may
// land. The loser surfaces as an over-refund, never as a second credit.
func (s *WalletServiceSuite) TestConcurrentRefundsCannotExceedOriginal() {
	s.deposit(100)
	debitTx, err := s.debit(50)
	s.NoError(err)

	const workers = 2
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = s.service.Refund(s.GetContext(), debitTx.ID, decimal.NewFromInt(50), types.TransactionReasonRefund, "full")
		}(i)
	}
	wg.Wait()

	var succeeded, overRefunds int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case ierr.IsOverRefund(err):
			overRefunds++
		default:
			s.Failf("unexpected refund error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, overRefunds)

	balance, err := s.service.GetBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(decimal.NewFromInt(100)), "got %s", balance)

	recomputed, err := s.service.RecomputedBalance(s.GetContext(), s.wallet.ID)
	s.NoError(err)
	s.True(balance.Equal(recomputed))
}

func (s *WalletServiceSuite) TestCreateWalletRequiresCustomer() {
	_, err := s.service.CreateWallet(s.GetContext(), "cust_missing", "usd")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}
