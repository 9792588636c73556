// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/config"
	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/id/uuid"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/metrics"
	"github.com/JakeFAU/github-crawler/internal/orchestrator"
	"github.com/JakeFAU/github-crawler/internal/output/console"
	csvsink "github.com/JakeFAU/github-crawler/internal/output/csv"
	"github.com/JakeFAU/github-crawler/internal/output/file"
	"github.com/JakeFAU/github-crawler/internal/output/gcs"
	"github.com/JakeFAU/github-crawler/internal/output/httppost"
	natssink "github.com/JakeFAU/github-crawler/internal/output/nats"
	"github.com/JakeFAU/github-crawler/internal/output/postgres"
	pubsubsink "github.com/JakeFAU/github-crawler/internal/output/pubsub"
	"github.com/JakeFAU/github-crawler/internal/output/report"
	"github.com/JakeFAU/github-crawler/internal/output/s3"
	"github.com/JakeFAU/github-crawler/internal/output/sqlite"
	"github.com/JakeFAU/github-crawler/internal/remote"
	"github.com/JakeFAU/github-crawler/internal/storage/memory"
	"github.com/JakeFAU/github-crawler/internal/telemetry"
)

// App holds the shared, long-lived services of one process.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Host         crawler.RemoteHost
	Sinks        []crawler.Sink
	Runs         *memory.RunStore
	Orchestrator *orchestrator.Orchestrator

	tracer  *sdktrace.TracerProvider
	closers []func() error
}

// Options carries the optional collaborators of New.
type Options struct {
	// Observer receives progress callbacks, e.g. the CLI progress bar.
	Observer orchestrator.Observer
	// Sinks replaces the configured sinks, mostly for tests.
	Sinks []crawler.Sink
}

// New builds every service described by cfg. It fails fast: a sink that
// cannot be initialized aborts startup and releases what was already built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		metrics.Init()
	}
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	host, err := remote.New(cfg.Remote(), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init host: %w", err)
	}
	a.Host = host

	clk := clock.New()
	sinks := opts.Sinks
	if sinks == nil {
		sinks, err = a.buildSinks(ctx, clk)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Sinks = sinks
	a.Runs = memory.NewRunStore(clk)

	orch, err := orchestrator.New(orchestrator.Options{
		Host:        host,
		Sinks:       sinks,
		Runs:        a.Runs,
		Concurrency: cfg.Crawler.Concurrency,
		Clock:       clk,
		IDs:         uuid.New(),
		Observer:    opts.Observer,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	a.Orchestrator = orch

	logger.Info("application services initialized",
		zap.String("host", cfg.Host.Type),
		zap.String("organization", cfg.Host.Organization),
		zap.Strings("sinks", sinkNames(sinks)),
	)
	return a, nil
}

func (a *App) buildSinks(ctx context.Context, clk crawler.Clock) ([]crawler.Sink, error) {
	out := a.Config.Outputs
	var sinks []crawler.Sink
	for _, name := range out.Enabled() {
		sink, err := a.buildSink(ctx, name, out, clk)
		if err != nil {
			return nil, fmt.Errorf("init %s sink: %w", name, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func (a *App) buildSink(ctx context.Context, name string, out config.OutputsConfig, clk crawler.Clock) (crawler.Sink, error) {
	switch name {
	case file.Name:
		return file.New(file.Config{Dir: out.File.Dir, Prefix: out.File.Prefix, Clock: clk})
	case console.Name:
		return console.New(a.Logger, clk), nil
	case csvsink.Name:
		return csvsink.New(csvsink.Config{Path: out.CSV.Path, Clock: clk})
	case httppost.Name:
		return httppost.New(httppost.Config{
			URL:     out.HTTP.URL,
			Headers: out.HTTP.Headers,
			Timeout: time.Duration(out.HTTP.TimeoutSeconds) * time.Second,
			Clock:   clk,
		})
	case pubsubsink.Name:
		s, err := pubsubsink.Open(ctx, out.PubSub.ProjectID, out.PubSub.Topic, clk)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case gcs.Name:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcs.New(client, gcs.Config{Bucket: out.GCS.Bucket, Prefix: out.GCS.Prefix, Clock: clk})
	case postgres.Name:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      out.Postgres.DSN,
			Table:    out.Postgres.Table,
			MaxConns: out.Postgres.MaxConns,
			Clock:    clk,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	case sqlite.Name:
		s, err := sqlite.Open(ctx, sqlite.Config{Path: out.SQLite.Path, Clock: clk})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case natssink.Name:
		s, err := natssink.Connect(natssink.Config{URL: out.NATS.URL, Subject: out.NATS.Subject, Clock: clk})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	case s3.Name:
		return s3.New(s3.Config{
			Endpoint:  out.S3.Endpoint,
			Region:    out.S3.Region,
			AccessKey: out.S3.AccessKey,
			SecretKey: out.S3.SecretKey,
			Bucket:    out.S3.Bucket,
			Prefix:    out.S3.Prefix,
			UseSSL:    out.S3.UseSSL,
			Clock:     clk,
		})
	case report.RecentRepositoriesName:
		return report.NewRecentRepositories(out.RecentRepositories.Path)
	case report.SearchPathsName:
		return report.NewSearchPaths(out.SearchPaths.Path, out.SearchPaths.Search)
	case report.CIdroidCSVName:
		return report.NewCIdroidCSV(out.CIdroidCSV.Path, out.CIdroidCSV.Indicators)
	case report.CIdroidJSONName:
		return report.NewCIdroidJSON(out.CIdroidJSON.Path, out.CIdroidJSON.Indicators, out.CIdroidJSON.WithTags)
	default:
		return nil, fmt.Errorf("unknown sink %q", name)
	}
}

// Close gracefully shuts down every service in the container.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
		a.tracer = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
	}
	// Sync fails on stdout/stderr on some platforms; nothing useful to do with it.
	_ = a.Logger.Sync()
}

func sinkNames(sinks []crawler.Sink) []string {
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return names
}
