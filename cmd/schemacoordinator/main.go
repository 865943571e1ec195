// Command schemacoordinator runs the advisory-lock migration protocol
// against the shared database (spec §4.D) and the retention worker (spec
// §3 invariant 7) as a standalone, long-running process, for fleets that
// run it as a dedicated database-coordination daemon rather than embedding
// both duties in each of the ingest/query binaries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/config"
	"github.com/ollyscale/core/internal/retention"
	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store/postgres"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "schemacoordinator",
		Short: "Runs the ollyscale schema migration coordinator and retention worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (spec §6 options)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	coord, err := schema.New(pool, cfg.Schema, logger)
	if err != nil {
		return fmt.Errorf("failed to build schema coordinator: %w", err)
	}

	if err := coord.Ensure(ctx); err != nil {
		return fmt.Errorf("schema coordination failed: %w", err)
	}

	version, err := coord.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read final schema version: %w", err)
	}
	logger.Info("schema ready", zap.Int("version", version))

	st, err := postgres.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open store for retention worker: %w", err)
	}
	defer st.Close()

	worker, err := retention.New(pool, st, cfg.Retention, logger)
	if err != nil {
		return fmt.Errorf("failed to build retention worker: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("schema coordinator running", zap.Duration("retention_horizon", cfg.Retention.Horizon),
		zap.Duration("sweep_interval", cfg.Retention.SweepInterval))
	worker.Run(runCtx)
	return nil
}
