// Command opampserver hosts the OpAMP coordinator (spec §4.E) as a
// standalone process: the WebSocket transport at /v1/opamp and the REST
// facade at /api/opamp/{status,config,health}.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/config"
	"github.com/ollyscale/core/internal/opamp"
)

const defaultAddr = ":8081"
const sweepInterval = 30 * time.Second

func main() {
	var configPath, addr string

	root := &cobra.Command{
		Use:   "opampserver",
		Short: "Runs the ollyscale OpAMP coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, addr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (spec §6 options)")
	root.Flags().StringVar(&addr, "addr", defaultAddr, "listen address for the WebSocket transport and REST facade")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	coord, err := opamp.New(cfg.OpAMP, logger)
	if err != nil {
		return fmt.Errorf("failed to build opamp coordinator: %w", err)
	}
	transport := opamp.NewTransport(coord, logger)
	restAPI := opamp.NewAPI(coord, logger)

	stop := make(chan struct{})
	go transport.RunRetrySweep(stop, sweepInterval)
	defer close(stop)

	mux := http.NewServeMux()
	mux.Handle("/v1/opamp", transport)
	mux.Handle("/", restAPI.Router())

	server := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("opamp server listening", zap.String("addr", addr))
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
