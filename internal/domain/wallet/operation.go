package wallet

import (
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// WalletOperation is the request to credit or debit a wallet.
type WalletOperation struct {
	WalletID      string                      `json:"wallet_id"`
	Type          types.TransactionType       `json:"type"`
	Amount        decimal.Decimal             `json:"amount"`
	Reason        types.TransactionReason     `json:"transaction_reason"`
	ReferenceType types.WalletTxReferenceType `json:"reference_type,omitempty"`
	ReferenceID   string                      `json:"reference_id,omitempty"`
	Description   string                      `json:"description,omitempty"`
}

func (op *WalletOperation) Validate() error {
	if op.WalletID == "" {
		return ierr.NewError("wallet_id is required").
			WithHint("Please provide a valid wallet ID").
			Mark(ierr.ErrValidation)
	}
	if err := op.Type.Validate(); err != nil {
		return err
	}
	if err := op.Reason.Validate(); err != nil {
		return err
	}
	if op.Amount.LessThanOrEqual(decimal.Zero) {
		return ierr.NewError("amount must be positive").
			WithHint("Operation amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": op.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
