package wallet

import (
	"context"

	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// Repository defines the interface for wallet persistence operations.
//
// ApplyTransaction is the serialization point for per-wallet mutations:
// it must atomically verify that the wallet's current balance equals
// tx.BalanceBefore, then set the balance to tx.BalanceAfter and append
// the transaction. When the balance moved underneath the caller it must
// fail with a version-conflict error so the caller can re-read and retry
// (equivalent to row-level locking or optimistic concurrency at the
// store).
type Repository interface {
	// Wallet operations
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWalletByID(ctx context.Context, id string) (*Wallet, error)
	GetWalletByCustomerID(ctx context.Context, customerID string) (*Wallet, error)
	UpdateWalletStatus(ctx context.Context, id string, status types.WalletStatus) error

	// Transaction operations
	ApplyTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, walletID string) ([]*Transaction, error)
	ListTransactionsByReference(ctx context.Context, refType types.WalletTxReferenceType, refID string) ([]*Transaction, error)
}
