package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/usage"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryUsageStore provides an in-memory implementation of
// usage.Repository for testing.
type InMemoryUsageStore struct {
	mu     sync.RWMutex
	usages map[string]*usage.FeatureUsage
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		usages: make(map[string]*usage.FeatureUsage),
	}
}

func (s *InMemoryUsageStore) Create(ctx context.Context, u *usage.FeatureUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.usages {
		if existing.SubscriptionID == u.SubscriptionID && existing.FeatureID == u.FeatureID {
			return ierr.NewError("usage counter already exists").
				WithReportableDetails(map[string]any{
					"subscription_id": u.SubscriptionID,
					"feature_id":      u.FeatureID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	stored := *u
	s.usages[u.ID] = &stored
	return nil
}

func (s *InMemoryUsageStore) Get(ctx context.Context, subscriptionID, featureID string) (*usage.FeatureUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.usages {
		if u.SubscriptionID == subscriptionID && u.FeatureID == featureID {
			found := *u
			return &found, nil
		}
	}
	return nil, ierr.NewError("usage counter not found").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
			"feature_id":      featureID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryUsageStore) Update(ctx context.Context, u *usage.FeatureUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usages[u.ID]; !ok {
		return ierr.NewError("usage counter not found").
			WithReportableDetails(map[string]any{"id": u.ID}).
			Mark(ierr.ErrNotFound)
	}
	stored := *u
	s.usages[u.ID] = &stored
	return nil
}

func (s *InMemoryUsageStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*usage.FeatureUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*usage.FeatureUsage, 0)
	for _, u := range s.usages {
		if u.SubscriptionID == subscriptionID {
			found := *u
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryUsageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages = make(map[string]*usage.FeatureUsage)
}
