package wallet

import (
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/shopspring/decimal"
)

// Transaction is one immutable entry in a wallet's ledger. Refunds never
// mutate the debit they reverse; they are new credit transactions
// referencing it through ReferenceType/ReferenceID.
type Transaction struct {
	ID       string                `db:"id" json:"id"`
	WalletID string                `db:"wallet_id" json:"wallet_id"`
	Type     types.TransactionType `db:"type" json:"type"`
	// Amount is always positive; Type carries the sign.
	Amount        decimal.Decimal             `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal             `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal             `db:"balance_after" json:"balance_after"`
	TxStatus      types.TransactionStatus     `db:"transaction_status" json:"transaction_status"`
	Reason        types.TransactionReason     `db:"transaction_reason" json:"transaction_reason"`
	ReferenceType types.WalletTxReferenceType `db:"reference_type" json:"reference_type"`
	ReferenceID   string                      `db:"reference_id" json:"reference_id"`
	Description   string                      `db:"description" json:"description"`
	types.BaseModel
}

func (t *Transaction) TableName() string {
	return "wallet_transactions"
}

// SignedAmount returns the amount with its direction applied: positive
// for credits, negative for debits.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == types.TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
