// Command queryserver hosts the Query Engine's HTTP/JSON surface (spec
// §4.C, §6) as a standalone process. Before serving, it runs the schema
// coordinator protocol and waits until the schema reaches
// schema.required_version; it has no separate, lower version threshold for
// reads.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/config"
	"github.com/ollyscale/core/internal/queryapi"
	"github.com/ollyscale/core/internal/querysvc"
	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store/postgres"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "queryserver",
		Short: "Runs the ollyscale query API server",
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

	if err := waitForSchema(ctx, cfg, logger); err != nil {
		return fmt.Errorf("schema readiness check failed: %w", err)
	}

	st, err := postgres.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	svc := querysvc.New(st, cfg.Query, logger)
	api := queryapi.New(svc, st, logger)

	server := &http.Server{Addr: cfg.API.Addr, Handler: api.Router()}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("query server listening", zap.String("addr", cfg.API.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// waitForSchema runs schema.Coordinator.Ensure: it tries the migration
// advisory lock and, if it wins, applies pending migrations itself;
// otherwise it polls until the schema reaches cfg.Schema.RequiredVersion.
func waitForSchema(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect for schema check: %w", err)
	}
	defer pool.Close()

	coord, err := schema.New(pool, cfg.Schema, logger)
	if err != nil {
		return err
	}
	return coord.Ensure(ctx)
}
