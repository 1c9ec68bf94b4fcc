package testutil

import (
	"context"

	"github.com/joemash/enhanced-subscriptions/internal/cache"
	"github.com/joemash/enhanced-subscriptions/internal/config"
	"github.com/joemash/enhanced-subscriptions/internal/logger"
	"github.com/stretchr/testify/suite"
)

// Stores bundles the in-memory repositories a service test needs.
type Stores struct {
	CustomerStore     *InMemoryCustomerStore
	PlanStore         *InMemoryPlanStore
	FeatureStore      *InMemoryFeatureStore
	EntitlementStore  *InMemoryEntitlementStore
	UsageStore        *InMemoryUsageStore
	SubscriptionStore *InMemorySubscriptionStore
	WalletStore       *InMemoryWalletStore
	RetryStore        *InMemoryRetryStore
}

// BaseServiceTestSuite provides common setup for service tests: a
// context, configuration, logger, cache and a full set of in-memory
// stores, all reset between tests.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	cfg    *config.Configuration
	logger *logger.Logger
	cache  cache.Cache
	stores Stores
}

// SetupTest is called before each test in the suite.
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = GetContext()
	s.cfg = config.GetDefaultConfig()

	log, err := logger.NewLogger(s.cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.logger = log
	s.cache = cache.NewInMemoryCache(s.cfg)
	s.setupStores()
}

// TearDownTest is called after each test in the suite.
func (s *BaseServiceTestSuite) TearDownTest() {
	s.ClearStores()
	s.cache.Flush(s.ctx)
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		CustomerStore:     NewInMemoryCustomerStore(),
		PlanStore:         NewInMemoryPlanStore(),
		FeatureStore:      NewInMemoryFeatureStore(),
		EntitlementStore:  NewInMemoryEntitlementStore(),
		UsageStore:        NewInMemoryUsageStore(),
		SubscriptionStore: NewInMemorySubscriptionStore(),
		WalletStore:       NewInMemoryWalletStore(),
		RetryStore:        NewInMemoryRetryStore(),
	}
	// Plan deletion must see live subscription references.
	s.stores.PlanStore.RefChecker = s.stores.SubscriptionStore.ExistsByPlanCost
}

// ClearStores wipes every store.
func (s *BaseServiceTestSuite) ClearStores() {
	s.stores.CustomerStore.Clear()
	s.stores.PlanStore.Clear()
	s.stores.FeatureStore.Clear()
	s.stores.EntitlementStore.Clear()
	s.stores.UsageStore.Clear()
	s.stores.SubscriptionStore.Clear()
	s.stores.WalletStore.Clear()
	s.stores.RetryStore.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.cfg
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}
