package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// InMemoryWalletStore provides an in-memory implementation of
// wallet.Repository for testing. ApplyTransaction enforces the same
// optimistic concurrency contract a SQL store would: the transaction's
// BalanceBefore must match the wallet's current balance or the call
// fails with a version conflict.
type InMemoryWalletStore struct {
	mu           sync.RWMutex
	wallets      map[string]*wallet.Wallet
	transactions map[string]*wallet.Transaction
}

func NewInMemoryWalletStore() *InMemoryWalletStore {
	return &InMemoryWalletStore{
		wallets:      make(map[string]*wallet.Wallet),
		transactions: make(map[string]*wallet.Transaction),
	}
}

func (s *InMemoryWalletStore) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[w.ID]; exists {
		return ierr.NewError("wallet already exists").
			WithReportableDetails(map[string]any{"id": w.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.wallets {
		if existing.CustomerID == w.CustomerID {
			return ierr.NewError("customer already has a wallet").
				WithReportableDetails(map[string]any{"customer_id": w.CustomerID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	stored := *w
	s.wallets[w.ID] = &stored
	return nil
}

func (s *InMemoryWalletStore) GetWalletByID(ctx context.Context, id string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, ierr.NewError("wallet not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *w
	return &found, nil
}

func (s *InMemoryWalletStore) GetWalletByCustomerID(ctx context.Context, customerID string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.wallets {
		if w.CustomerID == customerID {
			found := *w
			return &found, nil
		}
	}
	return nil, ierr.NewError("wallet not found").
		WithReportableDetails(map[string]any{"customer_id": customerID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryWalletStore) UpdateWalletStatus(ctx context.Context, id string, status types.WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return ierr.NewError("wallet not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	w.WalletStatus = status
	return nil
}

// ApplyTransaction atomically settles one ledger entry. The balance
// comparison and the write happen under one lock, exactly like a
// compare-and-set UPDATE inside a database transaction.
func (s *InMemoryWalletStore) ApplyTransaction(ctx context.Context, tx *wallet.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[tx.WalletID]
	if !ok {
		return ierr.NewError("wallet not found").
			WithReportableDetails(map[string]any{"id": tx.WalletID}).
			Mark(ierr.ErrNotFound)
	}
	if !w.Balance.Equal(tx.BalanceBefore) {
		return ierr.NewError("wallet balance moved").
			WithReportableDetails(map[string]any{
				"wallet_id": tx.WalletID,
				"expected":  tx.BalanceBefore,
				"actual":    w.Balance,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	w.Balance = tx.BalanceAfter
	stored := *tx
	s.transactions[tx.ID] = &stored
	return nil
}

func (s *InMemoryWalletStore) GetTransactionByID(ctx context.Context, id string) (*wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ierr.NewError("transaction not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *tx
	return &found, nil
}

func (s *InMemoryWalletStore) ListTransactions(ctx context.Context, walletID string) ([]*wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*wallet.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.WalletID == walletID {
			found := *tx
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryWalletStore) ListTransactionsByReference(ctx context.Context, refType types.WalletTxReferenceType, refID string) ([]*wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*wallet.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.ReferenceType == refType && tx.ReferenceID == refID {
			found := *tx
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryWalletStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = make(map[string]*wallet.Wallet)
	s.transactions = make(map[string]*wallet.Transaction)
}
