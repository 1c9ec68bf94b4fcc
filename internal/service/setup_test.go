package service

import (
	"github.com/joemash/enhanced-subscriptions/internal/testutil"
)

// testServiceParams assembles ServiceParams from a suite's in-memory
// stores.
func testServiceParams(base *testutil.BaseServiceTestSuite) ServiceParams {
	stores := base.GetStores()
	return ServiceParams{
		Logger:           base.GetLogger(),
		Config:           base.GetConfig(),
		Cache:            base.GetCache(),
		CustomerRepo:     stores.CustomerStore,
		PlanRepo:         stores.PlanStore,
		FeatureRepo:      stores.FeatureStore,
		EntitlementRepo:  stores.EntitlementStore,
		UsageRepo:        stores.UsageStore,
		SubscriptionRepo: stores.SubscriptionStore,
		WalletRepo:       stores.WalletStore,
		RetryRepo:        stores.RetryStore,
	}
}
