package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/customer"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryCustomerStore provides an in-memory implementation of
// customer.Repository for testing.
type InMemoryCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*customer.Customer
}

func NewInMemoryCustomerStore() *InMemoryCustomerStore {
	return &InMemoryCustomerStore{
		customers: make(map[string]*customer.Customer),
	}
}

func (s *InMemoryCustomerStore) Create(ctx context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[c.ID]; exists {
		return ierr.NewError("customer already exists").
			WithReportableDetails(map[string]any{"id": c.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	stored := *c
	s.customers[c.ID] = &stored
	return nil
}

func (s *InMemoryCustomerStore) Get(ctx context.Context, id string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, ierr.NewError("customer not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *c
	return &found, nil
}

func (s *InMemoryCustomerStore) GetByExternalID(ctx context.Context, externalID string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.ExternalID == externalID {
			found := *c
			return &found, nil
		}
	}
	return nil, ierr.NewError("customer not found").
		WithReportableDetails(map[string]any{"external_id": externalID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryCustomerStore) List(ctx context.Context) ([]*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*customer.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		found := *c
		out = append(out, &found)
	}
	return out, nil
}

// Clear removes all customers; used between tests.
func (s *InMemoryCustomerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = make(map[string]*customer.Customer)
}
