package subscription

import (
	"context"

	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// Repository defines the interface for subscription persistence operations
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	// ExistsByPlanCost reports whether any non-terminal subscription
	// references one of the given plan cost IDs. Used to reject plan
	// deletion while referenced.
	ExistsByPlanCost(ctx context.Context, planCostIDs []string) (bool, error)
}
