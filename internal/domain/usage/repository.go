package usage

import "context"

// Repository defines the interface for feature usage persistence
// operations
type Repository interface {
	Create(ctx context.Context, u *FeatureUsage) error
	Get(ctx context.Context, subscriptionID, featureID string) (*FeatureUsage, error)
	Update(ctx context.Context, u *FeatureUsage) error
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*FeatureUsage, error)
}
