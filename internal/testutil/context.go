package testutil

import (
	"context"

	"github.com/joemash/enhanced-subscriptions/internal/types"
)

// GetContext returns a context pre-populated the way the host would
// populate a request context.
func GetContext() context.Context {
	ctx := context.Background()
	ctx = types.SetUserID(ctx, types.DefaultUserID)
	ctx = types.SetRequestID(ctx, types.GenerateUUID())
	return ctx
}
