package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/feature"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryFeatureStore provides an in-memory implementation of
// feature.Repository for testing.
type InMemoryFeatureStore struct {
	mu       sync.RWMutex
	features map[string]*feature.Feature
}

func NewInMemoryFeatureStore() *InMemoryFeatureStore {
	return &InMemoryFeatureStore{
		features: make(map[string]*feature.Feature),
	}
}

func (s *InMemoryFeatureStore) Create(ctx context.Context, f *feature.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.features[f.ID]; exists {
		return ierr.NewError("feature already exists").
			WithReportableDetails(map[string]any{"id": f.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.features {
		if existing.Code == f.Code {
			return ierr.NewError("feature code already exists").
				WithReportableDetails(map[string]any{"code": f.Code}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	stored := *f
	s.features[f.ID] = &stored
	return nil
}

func (s *InMemoryFeatureStore) Get(ctx context.Context, id string) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.features[id]
	if !ok {
		return nil, ierr.NewError("feature not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *f
	return &found, nil
}

func (s *InMemoryFeatureStore) GetByCode(ctx context.Context, code string) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.features {
		if f.Code == code {
			found := *f
			return &found, nil
		}
	}
	return nil, ierr.NewError("feature not found").
		WithReportableDetails(map[string]any{"code": code}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryFeatureStore) List(ctx context.Context) ([]*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*feature.Feature, 0, len(s.features))
	for _, f := range s.features {
		found := *f
		out = append(out, &found)
	}
	return out, nil
}

func (s *InMemoryFeatureStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = make(map[string]*feature.Feature)
}
