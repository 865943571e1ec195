package schema

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ollyscale/core/internal/ollyerr"
)

// RetentionLockKey is the advisory lock key background retention workers
// contend for (SPEC_FULL.md open question #3: one worker in each
// cmd/schemacoordinator process, coordinated through this lock so only one
// process deletes at a time). Distinct
// from advisoryLockKey so a retention sweep never blocks on, or is blocked
// by, an in-progress migration.
const RetentionLockKey int64 = advisoryLockKey + 1

// WithAdvisoryLock attempts to acquire the session-scoped advisory lock
// keyed by key and, if acquired, runs fn before releasing it on the same
// connection. If another process already holds the lock, it returns
// ok=false without running fn — the caller should treat that as "someone
// else is handling this tick", not an error.
func WithAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key int64, fn func(ctx context.Context) error) (ok bool, err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, ollyerr.Unavailable("failed to acquire connection for advisory lock", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		return false, ollyerr.Unavailable("failed to attempt advisory lock", err)
	}
	if !locked {
		return false, nil
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
	}()

	return true, fn(ctx)
}
