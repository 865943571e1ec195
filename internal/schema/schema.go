// Package schema implements the schema coordinator (spec §4.D): exactly one
// process in a fleet runs pending migrations while the rest wait for the
// schema version to reach their required minimum. Grounded on the teacher's
// retry/backoff posture (exporter/pgstoreexporter's use of
// cenkalti/backoff/v4) generalized from "retry a write" to "poll a version
// row with capped backoff", since the teacher has no migration-coordination
// analogue of its own (sqlite is single-writer, single-process).
package schema

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/ollyerr"
)

// advisoryLockKey is the single globally-agreed 64-bit integer spec §4.D
// names. Picked arbitrarily; any fleet member hardcodes the same value.
const advisoryLockKey = 0x6f6c6c79736361 // "ollysca" in hex, just a fixed constant

// Config configures polling behavior for non-acquirer processes.
type Config struct {
	// RequiredVersion gates writes: when another process holds the
	// migration lock, Ensure blocks until at least this many migrations
	// have been applied.
	RequiredVersion int `mapstructure:"required_version"`
	// PollInitialInterval and PollMaxInterval bound the capped backoff used
	// while polling (spec §4.D "capped backoff, e.g. 250ms -> 5s").
	PollInitialInterval time.Duration `mapstructure:"poll_initial_interval"`
	PollMaxInterval     time.Duration `mapstructure:"poll_max_interval"`
}

func (c *Config) Validate() error {
	if c.RequiredVersion == 0 {
		c.RequiredVersion = CurrentSchemaVersion
	}
	if c.PollInitialInterval == 0 {
		c.PollInitialInterval = 250 * time.Millisecond
	}
	if c.PollMaxInterval == 0 {
		c.PollMaxInterval = 5 * time.Second
	}
	return nil
}

// Coordinator runs the advisory-lock migration protocol against a shared
// Postgres database.
type Coordinator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cfg    Config
}

func New(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{pool: pool, logger: logger, cfg: cfg}, nil
}

// Ensure runs the full protocol once: try to acquire the advisory lock; if
// acquired, run pending migrations, release, and return; if not acquired,
// wait for the schema version to reach cfg.RequiredVersion before returning
// (spec §4.D steps 1-3).
func (c *Coordinator) Ensure(ctx context.Context) error {
	acquired, err := c.tryMigrate(ctx)
	if err != nil {
		return err
	}
	if acquired {
		c.logger.Info("schema migrations applied", zap.Int("version", CurrentSchemaVersion))
		return nil
	}
	return c.waitForVersion(ctx, c.cfg.RequiredVersion)
}

// tryMigrate attempts to acquire the advisory lock with pg_try_advisory_lock
// (non-blocking: spec §4.D "each process attempts"). If acquired, it bootstraps
// schema_migrations, runs every pending step in a transaction each, writes the
// new version, and releases the lock via the same connection it was taken on
// — pg_advisory_lock is session-scoped, so the lock and the work must share
// one checked-out connection.
func (c *Coordinator) tryMigrate(ctx context.Context) (acquired bool, err error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, ollyerr.Unavailable("failed to acquire connection for migration lock", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, int64(advisoryLockKey)).Scan(&locked); err != nil {
		return false, ollyerr.Unavailable("failed to attempt advisory lock", err)
	}
	if !locked {
		return false, nil
	}
	defer func() {
		if _, unlockErr := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, int64(advisoryLockKey)); unlockErr != nil {
			c.logger.Warn("failed to release advisory lock", zap.Error(unlockErr))
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return true, ollyerr.Fatal("failed to bootstrap schema_migrations", err)
	}

	current, err := c.readVersion(ctx, conn)
	if err != nil {
		return true, err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := c.applyMigration(ctx, conn, m); err != nil {
			return true, err
		}
		c.logger.Info("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return true, nil
}

func (c *Coordinator) readVersion(ctx context.Context, conn *pgxpool.Conn) (int, error) {
	var version int
	row := conn.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&version); err != nil {
		return 0, ollyerr.Unavailable("failed to read schema version", err)
	}
	return version, nil
}

func (c *Coordinator) applyMigration(ctx context.Context, conn *pgxpool.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ollyerr.Unavailable("failed to begin migration transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return ollyerr.Fatal("migration step failed: "+m.name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return ollyerr.Fatal("failed to record migration version", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ollyerr.Unavailable("failed to commit migration", err)
	}
	return nil
}

// CurrentVersion reports the schema_migrations high-water mark, used by
// non-acquirers to decide whether they may proceed (spec §4.D step 3: reads
// at required_version_read_only may proceed earlier than writes).
func (c *Coordinator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	row := c.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&version); err != nil {
		// schema_migrations may not exist yet if the acquirer hasn't run;
		// that is indistinguishable from version 0 to a waiting caller.
		return 0, nil
	}
	return version, nil
}

// waitForVersion polls CurrentVersion with capped exponential backoff until
// it reaches required, or ctx is cancelled (spec §4.D step 3).
func (c *Coordinator) waitForVersion(ctx context.Context, required int) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.PollInitialInterval
	bo.MaxInterval = c.cfg.PollMaxInterval
	bo.MaxElapsedTime = 0 // bounded only by ctx; a stuck acquirer should not be a fixed timeout

	op := func() error {
		version, err := c.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		if version >= required {
			return nil
		}
		return errSchemaNotReady
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

var errSchemaNotReady = ollyerr.Unavailable("schema version below required minimum", nil)
