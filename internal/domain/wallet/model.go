package wallet

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// Wallet holds a customer's pre-funded balance. A committed balance is
// never negative; a debit that would take it below zero fails and leaves
// no transaction behind. The balance always equals the signed sum of the
// wallet's completed transactions.
type Wallet struct {
	ID           string             `db:"id" json:"id"`
	CustomerID   string             `db:"customer_id" json:"customer_id"`
	Currency     string             `db:"currency" json:"currency"`
	Balance      decimal.Decimal    `db:"balance" json:"balance"`
	WalletStatus types.WalletStatus `db:"wallet_status" json:"wallet_status"`
	types.BaseModel
}

func (w *Wallet) TableName() string {
	return "wallets"
}

func (w *Wallet) Validate() error {
	if w.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Please provide a valid customer ID").
			Mark(ierr.ErrValidation)
	}
	if w.Currency == "" {
		return ierr.NewError("currency is required").
			WithHint("Please provide a wallet currency").
			Mark(ierr.ErrValidation)
	}
	if err := w.WalletStatus.Validate(); err != nil {
		return err
	}
	if w.Balance.IsNegative() {
		return ierr.NewError("balance must not be negative").
			WithHint("A committed wallet balance can never be negative").
			WithReportableDetails(map[string]any{
				"wallet_id": w.ID,
				"balance":   w.Balance,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CanDebit reports whether debits are currently accepted. Deposits are
// still allowed while frozen so a customer can recover a past-due
// subscription.
func (w *Wallet) CanDebit() bool {
	return w.WalletStatus == types.WalletStatusActive
}
