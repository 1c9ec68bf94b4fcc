package service

import (
	"github.com/joemash/enhanced-subscriptions/internal/cache"
	"github.com/joemash/enhanced-subscriptions/internal/config"
	"github.com/joemash/enhanced-subscriptions/internal/domain/customer"
	"github.com/joemash/enhanced-subscriptions/internal/domain/entitlement"
	"github.com/joemash/enhanced-subscriptions/internal/domain/feature"
	"github.com/joemash/enhanced-subscriptions/internal/domain/plan"
	"github.com/joemash/enhanced-subscriptions/internal/domain/retry"
	"github.com/joemash/enhanced-subscriptions/internal/domain/subscription"
	"github.com/joemash/enhanced-subscriptions/internal/domain/usage"
	"github.com/joemash/enhanced-subscriptions/internal/domain/wallet"
	"github.com/joemash/enhanced-subscriptions/internal/logger"
)

// ServiceParams carries the shared dependencies injected into every
// service constructor. The host application wires concrete repositories
// at the persistence boundary; tests wire the in-memory stores from
// internal/testutil.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	Cache  cache.Cache

	CustomerRepo     customer.Repository
	PlanRepo         plan.Repository
	FeatureRepo      feature.Repository
	EntitlementRepo  entitlement.Repository
	UsageRepo        usage.Repository
	SubscriptionRepo subscription.Repository
	WalletRepo       wallet.Repository
	RetryRepo        retry.Repository
}
