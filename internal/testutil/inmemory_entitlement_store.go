package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/entitlement"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryEntitlementStore provides an in-memory implementation of
// entitlement.Repository for testing.
type InMemoryEntitlementStore struct {
	mu           sync.RWMutex
	entitlements map[string]*entitlement.Entitlement
}

func NewInMemoryEntitlementStore() *InMemoryEntitlementStore {
	return &InMemoryEntitlementStore{
		entitlements: make(map[string]*entitlement.Entitlement),
	}
}

func (s *InMemoryEntitlementStore) Create(ctx context.Context, e *entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entitlements[e.ID]; exists {
		return ierr.NewError("entitlement already exists").
			WithReportableDetails(map[string]any{"id": e.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.entitlements {
		if existing.PlanID == e.PlanID && existing.FeatureID == e.FeatureID {
			return ierr.NewError("entitlement already exists for plan and feature").
				WithReportableDetails(map[string]any{
					"plan_id":    e.PlanID,
					"feature_id": e.FeatureID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	stored := *e
	s.entitlements[e.ID] = &stored
	return nil
}

func (s *InMemoryEntitlementStore) Get(ctx context.Context, id string) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entitlements[id]
	if !ok {
		return nil, ierr.NewError("entitlement not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *e
	return &found, nil
}

func (s *InMemoryEntitlementStore) GetByPlanAndFeature(ctx context.Context, planID, featureID string) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entitlements {
		if e.PlanID == planID && e.FeatureID == featureID {
			found := *e
			return &found, nil
		}
	}
	return nil, ierr.NewError("entitlement not found").
		WithReportableDetails(map[string]any{
			"plan_id":    planID,
			"feature_id": featureID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryEntitlementStore) ListByPlan(ctx context.Context, planID string) ([]*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Entitlement, 0)
	for _, e := range s.entitlements {
		if e.PlanID == planID {
			found := *e
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryEntitlementStore) Update(ctx context.Context, e *entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entitlements[e.ID]; !ok {
		return ierr.NewError("entitlement not found").
			WithReportableDetails(map[string]any{"id": e.ID}).
			Mark(ierr.ErrNotFound)
	}
	stored := *e
	s.entitlements[e.ID] = &stored
	return nil
}

func (s *InMemoryEntitlementStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entitlements[id]; !ok {
		return ierr.NewError("entitlement not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	delete(s.entitlements, id)
	return nil
}

func (s *InMemoryEntitlementStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements = make(map[string]*entitlement.Entitlement)
}
