// Package config loads the outbox engine's process-wide configuration from
// the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// TriggerKind selects the polling trigger implementation.
type TriggerKind string

const (
	TriggerFixed    TriggerKind = "fixed"
	TriggerAdaptive TriggerKind = "adaptive"
)

// RetryKind selects the default retry policy shape.
type RetryKind string

const (
	RetryFixed       RetryKind = "fixed"
	RetryExponential RetryKind = "exponential"
	RetryJittered    RetryKind = "jittered"
)

// Config holds every tunable named in spec.md §6 "Configuration
// (enumerated)". Environment variables are parsed with the OUTBOX prefix,
// e.g. OUTBOX_BATCH_SIZE, OUTBOX_INSTANCE_STALE_TIMEOUT.
type Config struct {
	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Poll trigger
	PollTrigger         TriggerKind   `envconfig:"POLL_TRIGGER" default:"adaptive"`
	FixedInterval       time.Duration `envconfig:"FIXED_INTERVAL" default:"1s"`
	AdaptiveMinInterval time.Duration `envconfig:"ADAPTIVE_MIN_INTERVAL" default:"200ms"`
	AdaptiveMaxInterval time.Duration `envconfig:"ADAPTIVE_MAX_INTERVAL" default:"5s"`
	BatchSize           int           `envconfig:"BATCH_SIZE" default:"100"`

	// Processing policy
	DeleteCompletedRecords              bool `envconfig:"DELETE_COMPLETED_RECORDS" default:"true"`
	StopOnKeyFailure                    bool `envconfig:"STOP_ON_KEY_FAILURE" default:"true"`
	IgnoreRecordKeysWithPreviousFailure bool `envconfig:"IGNORE_RECORD_KEYS_WITH_PREVIOUS_FAILURE" default:"false"`

	// Default retry policy
	RetryDefaultPolicy RetryKind     `envconfig:"RETRY_DEFAULT_POLICY" default:"exponential"`
	RetryInitialDelay  time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"100ms"`
	RetryMaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryMultiplier    float64       `envconfig:"RETRY_MULTIPLIER" default:"2.0"`
	RetryJitter        time.Duration `envconfig:"RETRY_JITTER" default:"250ms"`
	RetryMaxAttempts   int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`

	// Instance lifecycle
	InstanceHeartbeatInterval       time.Duration `envconfig:"INSTANCE_HEARTBEAT_INTERVAL" default:"5s"`
	InstanceStaleTimeout            time.Duration `envconfig:"INSTANCE_STALE_TIMEOUT" default:"30s"`
	InstanceGracefulShutdownTimeout time.Duration `envconfig:"INSTANCE_GRACEFUL_SHUTDOWN_TIMEOUT" default:"10s"`

	// Partition coordinator
	RebalanceInterval time.Duration `envconfig:"REBALANCE_INTERVAL" default:"10s"`

	// Concurrency
	ConcurrencyWorkerLimit int `envconfig:"CONCURRENCY_WORKER_LIMIT" default:"16"`
}

// PartitionCount is frozen at 256 per spec.md §4.12; it is not configurable.
const PartitionCount = 256

// ResolveDefaults validates cross-field invariants, the same way the
// teacher's config.ResolveDefaults validates BuildTarget/DBDriver.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	switch c.PollTrigger {
	case TriggerFixed, TriggerAdaptive:
	default:
		return fmt.Errorf("unsupported POLL_TRIGGER: %s", c.PollTrigger)
	}

	switch c.RetryDefaultPolicy {
	case RetryFixed, RetryExponential, RetryJittered:
	default:
		return fmt.Errorf("unsupported RETRY_DEFAULT_POLICY: %s", c.RetryDefaultPolicy)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.ConcurrencyWorkerLimit <= 0 {
		return fmt.Errorf("CONCURRENCY_WORKER_LIMIT must be positive")
	}
	if c.AdaptiveMinInterval <= 0 || c.AdaptiveMaxInterval < c.AdaptiveMinInterval {
		return fmt.Errorf("ADAPTIVE_MIN_INTERVAL must be positive and <= ADAPTIVE_MAX_INTERVAL")
	}
	return nil
}

// New parses Config from the environment (prefix OUTBOX) and resolves
// defaults.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("OUTBOX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("poll_trigger", string(cfg.PollTrigger)).
		Int("batch_size", cfg.BatchSize).
		Str("retry_default_policy", string(cfg.RetryDefaultPolicy)).
		Int("concurrency_worker_limit", cfg.ConcurrencyWorkerLimit).
		Msg("outbox configuration loaded")

	return &cfg, nil
}

// NewForTesting returns a Config with fast intervals suitable for unit tests.
func NewForTesting() *Config {
	return &Config{
		DBDriver:                            "sqlite",
		SQLitePath:                          ":memory:",
		PollTrigger:                         TriggerFixed,
		FixedInterval:                       10 * time.Millisecond,
		AdaptiveMinInterval:                 10 * time.Millisecond,
		AdaptiveMaxInterval:                 200 * time.Millisecond,
		BatchSize:                           10,
		DeleteCompletedRecords:              true,
		StopOnKeyFailure:                    true,
		IgnoreRecordKeysWithPreviousFailure: false,
		RetryDefaultPolicy:                  RetryFixed,
		RetryInitialDelay:                   10 * time.Millisecond,
		RetryMaxDelay:                       100 * time.Millisecond,
		RetryMultiplier:                     2.0,
		RetryJitter:                         5 * time.Millisecond,
		RetryMaxAttempts:                    3,
		InstanceHeartbeatInterval:           50 * time.Millisecond,
		InstanceStaleTimeout:                200 * time.Millisecond,
		InstanceGracefulShutdownTimeout:     100 * time.Millisecond,
		RebalanceInterval:                   50 * time.Millisecond,
		ConcurrencyWorkerLimit:              4,
	}
}
