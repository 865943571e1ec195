// Package retention implements the background worker that purges rows
// older than the configured horizon (spec §3 invariant 7, §6
// "retention.horizon"). Per SPEC_FULL.md's open-question decision, one
// worker in each cmd/schemacoordinator process sweeps on an interval
// (the ingest and query binaries do not run it), coordinated through the schema
// coordinator's advisory-lock table so only one process in the fleet
// actually deletes at a time — grounded on internal/schema's
// pg_try_advisory_lock pattern, generalized behind a second, distinct lock
// key.
package retention

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/schema"
)

const (
	defaultHorizon       = 30 * 24 * time.Hour
	defaultSweepInterval = 15 * time.Minute
)

// Config configures the retention worker.
type Config struct {
	// Horizon is the oldest admissible row age (spec §6 "retention.horizon").
	// Default: 720h (30 days).
	Horizon time.Duration `mapstructure:"horizon"`
	// SweepInterval is how often this process attempts a sweep. Only one
	// fleet member's attempt actually runs at a time; the rest no-op for
	// that tick once they fail to acquire the advisory lock.
	// Default: 15m.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.Horizon <= 0 {
		c.Horizon = defaultHorizon
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return nil
}

// Deleter is the store operation the worker periodically invokes, kept as
// an interface so tests can substitute a fake store without a live
// database.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error)
}

// locker abstracts the advisory-lock coordination schema.WithAdvisoryLock
// performs, so the sweep loop can be unit tested without a live database.
type locker interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)
}

type pgxLocker struct{ pool *pgxpool.Pool }

func (l pgxLocker) WithAdvisoryLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error) {
	return schema.WithAdvisoryLock(ctx, l.pool, key, fn)
}

// Worker sweeps DeleteOlderThan on cfg.SweepInterval until its context is
// cancelled.
type Worker struct {
	deleter Deleter
	lock    locker
	cfg     Config
	logger  *zap.Logger
}

// New builds a Worker that coordinates through pool's advisory-lock table.
func New(pool *pgxpool.Pool, deleter Deleter, cfg Config, logger *zap.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Worker{deleter: deleter, lock: pgxLocker{pool: pool}, cfg: cfg, logger: logger}, nil
}

// Run blocks, sweeping every cfg.SweepInterval, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// sweepOnce attempts one retention pass, deferring to whichever fleet
// member currently holds the advisory lock.
func (w *Worker) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.Horizon).UnixNano()
	acquired, err := w.lock.WithAdvisoryLock(ctx, schema.RetentionLockKey, func(ctx context.Context) error {
		deleted, err := w.deleter.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		w.logger.Info("retention sweep deleted rows",
			zap.Int64("deleted", deleted),
			zap.Int64("cutoff_unix_nanos", cutoff))
		return nil
	})
	if err != nil {
		w.logger.Warn("retention sweep failed", zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Debug("retention sweep skipped: advisory lock held by another process")
	}
}
