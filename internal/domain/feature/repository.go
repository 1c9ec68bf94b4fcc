package feature

import "context"

// Repository defines the interface for feature persistence operations
type Repository interface {
	Create(ctx context.Context, f *Feature) error
	Get(ctx context.Context, id string) (*Feature, error)
	GetByCode(ctx context.Context, code string) (*Feature, error)
	List(ctx context.Context) ([]*Feature, error)
}
