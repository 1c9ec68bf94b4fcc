package testutil

import (
	"context"
	"sync"

	"github.com/joemash/enhanced-subscriptions/internal/domain/plan"
	ierr "github.com/joemash/enhanced-subscriptions/internal/errors"
)

// InMemoryPlanStore provides an in-memory implementation of
// plan.Repository for testing. RefChecker, when set, is consulted before
// deleting a plan so deletion can be rejected while a non-terminal
// subscription still references one of the plan's costs.
type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
	costs map[string]*plan.PlanCost

	RefChecker func(ctx context.Context, planCostIDs []string) (bool, error)
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		plans: make(map[string]*plan.Plan),
		costs: make(map[string]*plan.PlanCost),
	}
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return ierr.NewError("plan already exists").
			WithReportableDetails(map[string]any{"id": p.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	stored := *p
	s.plans[p.ID] = &stored
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *p
	return &found, nil
}

func (s *InMemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID]; !ok {
		return ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"id": p.ID}).
			Mark(ierr.ErrNotFound)
	}
	stored := *p
	s.plans[p.ID] = &stored
	return nil
}

func (s *InMemoryPlanStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	costIDs := make([]string, 0)
	for _, c := range s.costs {
		if c.PlanID == id {
			costIDs = append(costIDs, c.ID)
		}
	}
	checker := s.RefChecker
	s.mu.Unlock()

	if checker != nil && len(costIDs) > 0 {
		referenced, err := checker(ctx, costIDs)
		if err != nil {
			return err
		}
		if referenced {
			return ierr.NewError("plan is referenced by subscriptions").
				WithHint("A plan cannot be deleted while subscriptions use it").
				WithReportableDetails(map[string]any{"id": id}).
				Mark(ierr.ErrInvalidOperation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	delete(s.plans, id)
	for _, cid := range costIDs {
		delete(s.costs, cid)
	}
	return nil
}

func (s *InMemoryPlanStore) List(ctx context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		found := *p
		out = append(out, &found)
	}
	return out, nil
}

func (s *InMemoryPlanStore) CreateCost(ctx context.Context, c *plan.PlanCost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[c.PlanID]; !ok {
		return ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"plan_id": c.PlanID}).
			Mark(ierr.ErrNotFound)
	}
	if _, exists := s.costs[c.ID]; exists {
		return ierr.NewError("plan cost already exists").
			WithReportableDetails(map[string]any{"id": c.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	stored := *c
	s.costs[c.ID] = &stored
	return nil
}

func (s *InMemoryPlanStore) GetCost(ctx context.Context, id string) (*plan.PlanCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.costs[id]
	if !ok {
		return nil, ierr.NewError("plan cost not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	found := *c
	return &found, nil
}

func (s *InMemoryPlanStore) ListCostsByPlan(ctx context.Context, planID string) ([]*plan.PlanCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.PlanCost, 0)
	for _, c := range s.costs {
		if c.PlanID == planID {
			found := *c
			out = append(out, &found)
		}
	}
	return out, nil
}

func (s *InMemoryPlanStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*plan.Plan)
	s.costs = make(map[string]*plan.PlanCost)
}
