package retry

import (
	"context"
	"time"
)

// Repository defines the interface for retry record persistence
// operations
type Repository interface {
	Create(ctx context.Context, r *RetryRecord) error
	Get(ctx context.Context, id string) (*RetryRecord, error)
	Update(ctx context.Context, r *RetryRecord) error
	// ListPending returns unresolved scheduled records whose
	// NextAttemptAt is at or before now.
	ListPending(ctx context.Context, now time.Time) ([]*RetryRecord, error)
	// ListUnresolved returns every record with Resolved == false,
	// including exhausted ones; they stay visible until manually
	// resolved.
	ListUnresolved(ctx context.Context) ([]*RetryRecord, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*RetryRecord, error)
}
