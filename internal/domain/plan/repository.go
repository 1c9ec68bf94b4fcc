package plan

import "context"

// Repository defines the interface for plan persistence operations.
// Delete must fail with an invalid-operation error while any
// non-terminal subscription references one of the plan's costs.
type Repository interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Plan, error)

	// Cost operations
	CreateCost(ctx context.Context, c *PlanCost) error
	GetCost(ctx context.Context, id string) (*PlanCost, error)
	ListCostsByPlan(ctx context.Context, planID string) ([]*PlanCost, error)
}
