// Package scheduler triggers crawls on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
)

// Starter launches a crawl in the background.
type Starter interface {
	Start(ctx context.Context, settings crawler.CrawlSettings) (crawler.Run, error)
}

// Scheduler wraps a gocron scheduler with a single crawl job.
type Scheduler struct {
	scheduler gocron.Scheduler
	starter   Starter
	settings  func() crawler.CrawlSettings
	logger    *zap.Logger
	job       gocron.Job
}

// New creates a scheduler that calls starter with the settings returned by
// settings on every tick.
func New(starter Starter, settings func() crawler.CrawlSettings, logger *zap.Logger) (*Scheduler, error) {
	if starter == nil {
		return nil, errors.New("scheduler requires a starter")
	}
	if settings == nil {
		return nil, errors.New("scheduler requires a settings source")
	}
	logger = logging.OrNop(logger).Named("scheduler")
	s, err := gocron.NewScheduler(gocron.WithLogger(cronLogger{logger.Sugar()}))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, starter: starter, settings: settings, logger: logger}, nil
}

// ScheduleCron registers the crawl job with a standard five-field crontab.
// Overlapping ticks are skipped rather than queued.
func (s *Scheduler) ScheduleCron(ctx context.Context, crontab string) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(s.trigger),
		gocron.WithContext(ctx),
		gocron.WithName("crawl"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create crawl job: %w", err)
	}
	s.job = job
	return job.ID().String(), nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down. A crawl already started keeps running.
func (s *Scheduler) Stop() error {
	s.logger.Info("stopping scheduler")
	return s.scheduler.Shutdown()
}

// RunNow triggers the crawl job immediately.
func (s *Scheduler) RunNow() error {
	if s.job == nil {
		return errors.New("no crawl job scheduled")
	}
	return s.job.RunNow()
}

func (s *Scheduler) trigger(ctx context.Context) {
	run, err := s.starter.Start(ctx, s.settings())
	switch {
	case errors.Is(err, crawler.ErrRunInProgress):
		s.logger.Warn("scheduled crawl skipped, a run is in progress")
	case err != nil:
		s.logger.Error("scheduled crawl failed to start", zap.Error(err))
	default:
		s.logger.Info("scheduled crawl started", zap.String("run_id", run.ID))
	}
}

// cronLogger adapts zap to gocron's key/value logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Debug(msg string, args ...any) { c.l.Debugw(msg, args...) }
func (c cronLogger) Error(msg string, args ...any) { c.l.Errorw(msg, args...) }
func (c cronLogger) Info(msg string, args ...any)  { c.l.Infow(msg, args...) }
func (c cronLogger) Warn(msg string, args ...any)  { c.l.Warnw(msg, args...) }
