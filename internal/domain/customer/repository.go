package customer

import "context"

// Repository defines the interface for customer persistence operations
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, id string) (*Customer, error)
	GetByExternalID(ctx context.Context, externalID string) (*Customer, error)
	List(ctx context.Context) ([]*Customer, error)
}
