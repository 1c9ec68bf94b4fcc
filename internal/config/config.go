package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joemash/enhanced-subscriptions/internal/types"
	"github.com/joemash/enhanced-subscriptions/internal/validator"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logging LoggingConfig `validate:"required"`
	Cache   CacheConfig
	Retry   RetryConfig `validate:"required"`
	Billing BillingConfig
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type CacheConfig struct {
	// Enabled toggles the entitlement access cache. Disabling it trades
	// throughput for always-fresh checks.
	Enabled   bool
	AccessTTL time.Duration
}

type RetryConfig struct {
	// BaseInterval seeds the exponential strategy; attempt n waits
	// base * 2^n, capped at MaxInterval.
	BaseInterval time.Duration `validate:"required"`
	MaxInterval  time.Duration `validate:"required"`
	// MaxAttempts bounds exponential and fixed strategies before a record
	// becomes exhausted.
	MaxAttempts int `validate:"required,min=1"`
	// ImmediateMaxAttempts bounds the immediate strategy.
	ImmediateMaxAttempts int           `validate:"required,min=1"`
	FixedInterval        time.Duration `validate:"required"`
}

type BillingConfig struct {
	// SweepWorkers caps the parallelism of a ProcessAll pass.
	SweepWorkers int `validate:"min=1"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/enhanced-subscriptions")

	v.SetEnvPrefix("SUBSCRIPTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; defaults plus env vars are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.accessttl", 5*time.Minute)
	v.SetDefault("retry.baseinterval", 5*time.Minute)
	v.SetDefault("retry.maxinterval", 24*time.Hour)
	v.SetDefault("retry.maxattempts", 5)
	v.SetDefault("retry.immediatemaxattempts", 3)
	v.SetDefault("retry.fixedinterval", time.Hour)
	v.SetDefault("billing.sweepworkers", 8)
}

func (c Configuration) Validate() error {
	return validator.ValidateRequest(c)
}

// GetDefaultConfig returns the configuration used by tests and by hosts
// that construct the engine without a config file.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{Level: types.LogLevelInfo},
		Cache: CacheConfig{
			Enabled:   true,
			AccessTTL: 5 * time.Minute,
		},
		Retry: RetryConfig{
			BaseInterval:         5 * time.Minute,
			MaxInterval:          24 * time.Hour,
			MaxAttempts:          5,
			ImmediateMaxAttempts: 3,
			FixedInterval:        time.Hour,
		},
		Billing: BillingConfig{SweepWorkers: 8},
	}
}
