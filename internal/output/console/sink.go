// Package console logs every crawl record through zap.
package console

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "console"

// Sink writes one Info entry per record.
type Sink struct {
	logger *zap.Logger
	clock  crawler.Clock
}

// New returns a console Sink.
func New(logger *zap.Logger, clk crawler.Clock) *Sink {
	return &Sink{logger: logging.OrNop(logger).Named("output"), clock: output.ClockOrSystem(clk)}
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output logs each branch record of repo.
func (s *Sink) Output(_ context.Context, repo crawler.Repository) error {
	for _, rec := range output.Records(repo, s.clock.Now()) {
		s.logger.Info("repository crawled",
			zap.String("repository", rec.FullName),
			zap.String("branch", rec.BranchName),
			zap.Any("indicators", rec.Indicators),
			zap.Any("misc_tasks_results", rec.MiscTasksResults),
			zap.Any("search_results", rec.SearchResults),
			zap.Strings("tags", rec.Tags),
			zap.Strings("topics", rec.Topics),
			zap.Bool("excluded", rec.Excluded),
			zap.String("crawler_run_id", rec.CrawlerRunID),
		)
	}
	return nil
}

// Finalize syncs the logger.
func (s *Sink) Finalize(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
