package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore provides an in-memory implementation of
// subscription.Repository for testing.
type InMemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID]; exists {
		return ierr.NewError("subscription already exists").
			WithReportableDetails(map[string]any{"id": sub.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	stored := *sub
	s.subscriptions[sub.ID] = &stored
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *sub
	return &found, nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; !ok {
		return ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"id": sub.ID}).
			Mark(ierr.ErrNotFound)
	}
	stored := *sub
	s.subscriptions[sub.ID] = &stored
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if filter != nil && !matchesFilter(sub, filter) {
			continue
		}
		found := *sub
		out = append(out, &found)
	}
	return out, nil
}

func matchesFilter(sub *subscription.Subscription, filter *types.SubscriptionFilter) bool {
	if filter.CustomerID != "" && sub.CustomerID != filter.CustomerID {
		return false
	}
	if len(filter.Statuses) > 0 && !lo.Contains(filter.Statuses, sub.SubscriptionStatus) {
		return false
	}
	if filter.BillingNextBefore != nil {
		if sub.BillingNext == nil || sub.BillingNext.After(*filter.BillingNextBefore) {
			return false
		}
	}
	if filter.GraceUntilBefore != nil {
		if sub.GraceUntil == nil || sub.GraceUntil.After(*filter.GraceUntilBefore) {
			return false
		}
	}
	return true
}

func (s *InMemorySubscriptionStore) ExistsByPlanCost(ctx context.Context, planCostIDs []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.SubscriptionStatus.IsTerminal() {
			continue
		}
		if lo.Contains(planCostIDs, sub.PlanCostID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]*subscription.Subscription)
}
