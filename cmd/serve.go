package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/api"
	"github.com/JakeFAU/github-crawler/internal/app"
	"github.com/JakeFAU/github-crawler/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: the HTTP API plus the optional
// cron trigger, until the process is signalled.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the run API and the scheduled crawls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", rt.cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen on port %d: %w", rt.cfg.Server.Port, err)
			}
			return serve(cmd.Context(), rt, ln)
		},
	}
}

func serve(ctx context.Context, rt *runtime, ln net.Listener) error {
	cfg, logger := rt.cfg, rt.logger

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	apiServer, err := api.NewServer(api.Options{
		Runner:         a.Orchestrator,
		Runs:           a.Runs,
		Settings:       cfg.CrawlSettings,
		APIKey:         cfg.Server.APIKey,
		MetricsEnabled: cfg.Metrics.Enabled,
		Logger:         logger.Named("api"),
	})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init api: %w", err)
	}

	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(a.Orchestrator, cfg.CrawlSettings, logger)
		if err != nil {
			_ = ln.Close()
			return err
		}
		if _, err := sched.ScheduleCron(ctx, cfg.Schedule.Cron); err != nil {
			_ = ln.Close()
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Stop(); err != nil {
				logger.Warn("scheduler shutdown error", zap.Error(err))
			}
		}()
		logger.Info("crawl scheduled", zap.String("cron", cfg.Schedule.Cron))
	}

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	waitForRun(shutdownCtx, a, logger)
	logger.Info("shutdown complete")
	return nil
}

// waitForRun lets a background crawl finish before sinks are closed.
func waitForRun(ctx context.Context, a *app.App, logger *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for a.Orchestrator.Running() {
		select {
		case <-ctx.Done():
			logger.Warn("crawl still running at shutdown")
			return
		case <-ticker.C:
		}
	}
}
