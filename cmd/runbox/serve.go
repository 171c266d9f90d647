package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/app"
	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/logging"
	"github.com/michaelbrown/runbox/internal/server"
)

var (
	portFlag    int
	backendFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runbox HTTP server",
	Long: `Start the runbox HTTP server.

POST /api/execute/ runs a submission. Listings live under /api, health at
/healthz and Prometheus metrics at /metrics.

Examples:
  runbox serve
  runbox serve --port 9090 --backend process`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&backendFlag, "backend", "", "Sandbox backend: docker or process (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if backendFlag != "" {
		cfg.Sandbox.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := logging.New(cfg.Log.Level)

	a, err := app.New(cfg, &logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Cleanup(ctx)
	a.Prepare(ctx)

	// Determine port
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, a.Pipeline, a.Languages, a.Rubrics, a.Store, &logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(port)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown: drain in-flight executions, then sweep containers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown")
	}
	a.Cleanup(shutdownCtx)
	return nil
}
