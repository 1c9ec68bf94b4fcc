package cache

import (
	"context"
	"time"
)

// Cache is the read-through cache used for entitlement access checks.
// Implementations must be safe for concurrent use. Callers own
// invalidation: any usage-recording event or plan-feature mutation must
// delete the affected keys so a stale entry can never allow access
// beyond quota.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Flush(ctx context.Context)
}
