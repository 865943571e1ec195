package pgstoreexporter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store/postgres"
)

const (
	defaultMaxItems          = 1000
	defaultMaxBytes          = 4 << 20 // 4 MiB
	defaultMaxDelay          = 5 * time.Second
	defaultQueueCapacity     = 100_000
	defaultQueueHighWater    = 80_000
	defaultAdmissionTimeout  = 10 * time.Second
	defaultMaxRetries        = 5
	defaultRetryInitial      = 250 * time.Millisecond
	defaultRetryMax          = 5 * time.Second
	defaultMaxAttrValueBytes = 4096
)

// Config defines the configuration for the Postgres store exporter.
type Config struct {
	// Database is the connection configuration for the shared star-schema
	// store (spec §4.A). Dimension caching and pool sizing live here.
	Database postgres.Config `mapstructure:"database"`

	// Schema configures the readiness gate this exporter polls before
	// accepting writes (spec §4.B "Schema not ready -> Unavailable",
	// §4.D "D gates B and C for writes"). The exporter never attempts to
	// acquire the migration lock itself on the push path; it only reads
	// the version schema.Coordinator reports. cmd/queryserver, by
	// contrast, runs the full schema.Coordinator.Ensure protocol at startup.
	Schema schema.Config `mapstructure:"schema"`

	// MaxItems bounds how many spans/logs/points accumulate into one
	// WriteBatch before it is handed to the admission queue.
	// Default: 1000
	MaxItems int `mapstructure:"max_items"`

	// MaxBytes is accepted and defaulted but is not used when splitting or
	// coalescing batches: only MaxItems and MaxDelay bound a WriteBatch.
	// Default: 4194304 (4 MiB)
	MaxBytes int `mapstructure:"max_bytes"`

	// MaxDelay bounds how long a partially-filled batch waits before being
	// flushed regardless of size (spec §4.B stage 4, "whichever first").
	// Default: 5s
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// QueueCapacity is the upper bound Validate clamps QueueHighWater to.
	// The admission queue itself does not read it: it never reports itself
	// full, and sheds by QueueHighWater instead.
	// Default: 100000
	QueueCapacity int `mapstructure:"queue_capacity"`

	// QueueHighWater is the item-count threshold above which the
	// admission queue sheds its oldest batches (spec §4.B "shed-oldest-
	// with-accounting").
	// Default: 80000
	QueueHighWater int `mapstructure:"queue_highwater"`

	// AdmissionTimeout bounds how long a push call waits for its batch to
	// commit before the handler returns Unavailable so the collector
	// retries (spec §4.B "Backpressure").
	// Default: 10s
	AdmissionTimeout time.Duration `mapstructure:"admission_timeout"`

	// MaxRetries bounds the number of re-attempts a batch gets after a
	// Retryable persist failure before the loss is accounted as
	// partial_success (spec §4.B stage 5).
	// Default: 5
	MaxRetries int `mapstructure:"max_retries"`

	// RetryInitialInterval and RetryMaxInterval parameterize the
	// exponential backoff applied between persist attempts.
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`

	// MaxAttrValueBytes truncates oversized attribute string values during
	// Normalize (spec §4.B stage 2).
	// Default: 4096
	MaxAttrValueBytes int `mapstructure:"max_attr_value_bytes"`

	// PersistWorkers is the number of concurrent consumers draining the
	// admission queue into WriteBatch calls.
	// Default: 4
	PersistWorkers int `mapstructure:"persist_workers"`
}

// applyEnvironmentOverrides reads well-known environment variables and
// applies them to the config, mirroring the teacher's pattern of separating
// environment overrides from Validate so they apply exactly once during
// construction.
func (cfg *Config) applyEnvironmentOverrides() error {
	if url := strings.TrimSpace(os.Getenv("OLLYSCALE_DATABASE_URL")); url != "" {
		cfg.Database.URL = url
	}
	if v := strings.TrimSpace(os.Getenv("OLLYSCALE_ADMISSION_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OLLYSCALE_ADMISSION_TIMEOUT %q: %w", v, err)
		}
		cfg.AdmissionTimeout = d
	}
	return nil
}

// Validate checks the configuration for errors and applies defaults.
func (cfg *Config) Validate() error {
	if err := cfg.Database.Validate(); err != nil {
		return err
	}
	if err := cfg.Schema.Validate(); err != nil {
		return err
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = defaultQueueHighWater
	}
	if cfg.QueueHighWater > cfg.QueueCapacity {
		cfg.QueueHighWater = cfg.QueueCapacity
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = defaultAdmissionTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInitial
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = defaultRetryMax
	}
	if cfg.MaxAttrValueBytes <= 0 {
		cfg.MaxAttrValueBytes = defaultMaxAttrValueBytes
	}
	if cfg.PersistWorkers <= 0 {
		cfg.PersistWorkers = 4
	}
	return nil
}
