package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/domain/retry"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryRetryStore provides an in-memory implementation of
// retry.Repository for testing.
type InMemoryRetryStore struct {
	mu      sync.RWMutex
	records map[string]*retry.RetryRecord
}

func NewInMemoryRetryStore() *InMemoryRetryStore {
	return &InMemoryRetryStore{
		records: make(map[string]*retry.RetryRecord),
	}
}

func (s *InMemoryRetryStore) Create(ctx context.Context, r *retry.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; exists {
		return ierr.NewError("retry record already exists").
			WithReportableDetails(map[string]any{"id": r.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	stored := *r
	s.records[r.ID] = &stored
	return nil
}

func (s *InMemoryRetryStore) Get(ctx context.Context, id string) (*retry.RetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ierr.NewError("retry record not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *r
	return &found, nil
}

func (s *InMemoryRetryStore) Update(ctx context.Context, r *retry.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; !ok {
		return ierr.NewError("retry record not found").
			WithReportableDetails(map[string]any{"id": r.ID}).
			Mark(ierr.ErrNotFound)
	}
	stored := *r
	s.records[r.ID] = &stored
	return nil
}

func (s *InMemoryRetryStore) ListPending(ctx context.Context, now time.Time) ([]*retry.RetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retry.RetryRecord, 0)
	for _, r := range s.records {
		if r.IsPending() && !r.NextAttemptAt.After(now) {
			found := *r
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryRetryStore) ListUnresolved(ctx context.Context) ([]*retry.RetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retry.RetryRecord, 0)
	for _, r := range s.records {
		if !r.Resolved {
			found := *r
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryRetryStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*retry.RetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retry.RetryRecord, 0)
	for _, r := range s.records {
		if r.SubscriptionID == subscriptionID {
			found := *r
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryRetryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*retry.RetryRecord)
}
