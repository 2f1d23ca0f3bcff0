package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wardenhq/sandbox-gateway/internal/api"
	"github.com/wardenhq/sandbox-gateway/internal/config"
	"github.com/wardenhq/sandbox-gateway/internal/driver/docker"
	"github.com/wardenhq/sandbox-gateway/internal/metrics"
	"github.com/wardenhq/sandbox-gateway/internal/pool"
	"github.com/wardenhq/sandbox-gateway/internal/proxy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox gateway HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

// poolAdapter narrows *pool.Controller to the small interfaces
// internal/proxy and internal/api depend on, so neither package needs
// to import internal/pool directly and both stay testable against a
// fake without pulling in Docker.
type poolAdapter struct{ c *pool.Controller }

func (a poolAdapter) Acquire(ctx context.Context, sessionID string) (proxy.Sandbox, error) {
	sb, err := a.c.Acquire(ctx, sessionID)
	if err != nil {
		return proxy.Sandbox{}, err
	}
	return proxy.Sandbox{ID: sb.ID, Addr: sb.Addr}, nil
}

func (a poolAdapter) Release(ctx context.Context, sessionID string) error {
	return a.c.Release(ctx, sessionID)
}

func (a poolAdapter) RecordFailure(ctx context.Context, sessionID string) error {
	return a.c.RecordFailure(ctx, sessionID)
}

func (a poolAdapter) Snapshot() metrics.Snapshot {
	s := a.c.Snapshot()
	return metrics.Snapshot{Total: s.Total, Busy: s.Busy, Idle: s.Idle, IsInitializing: s.IsInitializing}
}

func runServer() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("image", cfg.WorkerImage).
		Int("min_idle", cfg.MinIdleWorkers).
		Int("max_total", cfg.MaxTotalWorkers).
		Msg("starting sandbox gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	drv, err := docker.New(cfg.CreateRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize docker driver")
	}
	defer drv.Close()

	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := drv.Healthy(healthCtx); err != nil {
		log.Fatal().Err(err).Msg("docker engine health check failed")
	}
	healthCancel()

	controller := pool.New(cfg, drv)
	if err := controller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}
	defer controller.Stop()

	adapter := poolAdapter{c: controller}
	p := proxy.New(adapter)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := api.NewHandler(p, adapter, cfg.AuthToken)
	h.RegisterRoutes(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("gateway listening")
		serverErr <- e.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("server startup failed")
	}
}
