// Package postgres implements store.Store against a Postgres database using
// the star schema of spec §3. It generalizes the teacher's
// storage/sqlite.Store — a driver handle wrapped in typed operations, a
// window-function root-selection trick reused unchanged in GetTraceDetail —
// to real dimension tables with foreign-key integrity instead of sqlite's
// single JSON-blob-plus-virtual-columns table, because spec invariant 1
// ("fact rows reference only existing dimension rows") needs actual FKs.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store/dimcache"
)

// Config mirrors the process-wide options named in spec §6.
type Config struct {
	URL             string        `mapstructure:"url"`
	PoolMin         int32         `mapstructure:"pool_min"`
	PoolMax         int32         `mapstructure:"pool_max"`
	DimCacheEntries int           `mapstructure:"dim_cache_entries"`
	QueryDeadline   time.Duration `mapstructure:"query_deadline"`
}

// Validate fills defaults and rejects obviously-broken configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ollyerr.Invalidf("database.url is required")
	}
	if c.PoolMin == 0 {
		c.PoolMin = 2
	}
	if c.PoolMax == 0 {
		c.PoolMax = 16
	}
	if c.PoolMax < c.PoolMin {
		return ollyerr.Invalidf("database.pool.max (%d) must be >= database.pool.min (%d)", c.PoolMax, c.PoolMin)
	}
	if c.DimCacheEntries == 0 {
		c.DimCacheEntries = 50_000
	}
	if c.QueryDeadline == 0 {
		c.QueryDeadline = 10 * time.Second
	}
	return nil
}

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cfg    Config

	resourceCache *dimcache.Cache
	scopeCache    *dimcache.Cache
	metricCache   *dimcache.Cache
}

// New opens one connection pool bounded by cfg.PoolMin and cfg.PoolMax and
// wraps it with per-dimension caches. Ingest and query calls draw from the
// same pool; there are no per-category caps, so either kind of caller can
// hold every connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, ollyerr.Invalid("invalid database.url", err)
	}
	poolCfg.MinConns = cfg.PoolMin
	poolCfg.MaxConns = cfg.PoolMax

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, ollyerr.Unavailable("failed to create connection pool", err)
	}

	resourceCache, err := dimcache.New(cfg.DimCacheEntries)
	if err != nil {
		return nil, ollyerr.Fatal("failed to create resource cache", err)
	}
	scopeCache, err := dimcache.New(cfg.DimCacheEntries)
	if err != nil {
		return nil, ollyerr.Fatal("failed to create scope cache", err)
	}
	metricCache, err := dimcache.New(cfg.DimCacheEntries)
	if err != nil {
		return nil, ollyerr.Fatal("failed to create metric descriptor cache", err)
	}

	return &Store{
		pool:          pool,
		logger:        logger,
		cfg:           cfg,
		resourceCache: resourceCache,
		scopeCache:    scopeCache,
		metricCache:   metricCache,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity, used by /health/db.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return ollyerr.Unavailable("database unreachable", err)
	}
	return nil
}

// classifyPgErr maps a raw pgx/driver error into the ollyerr taxonomy. Most
// failures at the store boundary are transient (connection loss, pool
// exhaustion) and therefore Retryable per spec §4.A's failure semantics, so
// they map to Unavailable; if ctx is already done, the error maps to
// Cancelled instead.
func classifyPgErr(ctx context.Context, msg string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ollyerr.Cancelled(msg, err)
	}
	return ollyerr.Unavailable(msg, err)
}

