package entitlement

import "context"

// Repository defines the interface for entitlement persistence operations
type Repository interface {
	Create(ctx context.Context, e *Entitlement) error
	Get(ctx context.Context, id string) (*Entitlement, error)
	GetByPlanAndFeature(ctx context.Context, planID, featureID string) (*Entitlement, error)
	ListByPlan(ctx context.Context, planID string) ([]*Entitlement, error)
	Update(ctx context.Context, e *Entitlement) error
	Delete(ctx context.Context, id string) error
}
