// Package enricher turns one repository summary into a complete crawl record.
//
// A repository moves through: overlay resolved, excluded or to be crawled,
// branches resolved, each branch enriched, record assembled. Exclusion jumps
// straight to assembly. Failures of a single file, parser, task or search are
// logged and leave the matching entry absent; only a failed overlay fetch or
// branch listing fails the whole repository.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/exclusion"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/metrics"
	"github.com/JakeFAU/github-crawler/internal/overlay"
	"github.com/JakeFAU/github-crawler/internal/task"
	"github.com/JakeFAU/github-crawler/internal/telemetry"
)

// ParserLookup resolves indicator parsers by method.
type ParserLookup interface {
	Lookup(method string) (crawler.IndicatorParser, bool)
}

// Options wires an Enricher for one crawl run.
type Options struct {
	Host     crawler.RemoteHost
	Parsers  ParserLookup
	Settings crawler.CrawlSettings
	Matcher  *exclusion.Matcher
	Tasks    []crawler.RepoTask
	Logger   *zap.Logger
}

// Enricher implements crawler.RepositoryEnricher against a settings snapshot.
type Enricher struct {
	host     crawler.RemoteHost
	parsers  ParserLookup
	settings crawler.CrawlSettings
	matcher  *exclusion.Matcher
	overlay  *overlay.Resolver
	tasks    []crawler.RepoTask
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New builds an Enricher. A nil matcher excludes nothing server side.
func New(opts Options) (*Enricher, error) {
	if opts.Host == nil {
		return nil, errors.New("enricher: host is required")
	}
	if opts.Parsers == nil {
		return nil, errors.New("enricher: parser lookup is required")
	}
	matcher := opts.Matcher
	if matcher == nil {
		var err error
		if matcher, err = exclusion.New(nil, nil); err != nil {
			return nil, err
		}
	}
	logger := logging.OrNop(opts.Logger).Named("enricher")
	return &Enricher{
		host:     opts.Host,
		parsers:  opts.Parsers,
		settings: opts.Settings,
		matcher:  matcher,
		overlay:  overlay.NewResolver(opts.Host, opts.Settings.OverlayPath, opts.Logger),
		tasks:    opts.Tasks,
		logger:   logger,
		tracer:   telemetry.Tracer("enricher"),
	}, nil
}

// Enrich runs the full pipeline for one repository.
func (e *Enricher) Enrich(ctx context.Context, summary crawler.RepositorySummary) (crawler.Repository, error) {
	ctx, span := e.tracer.Start(ctx, "enrich repository",
		trace.WithAttributes(attribute.String("repository", summary.FullName)))
	defer span.End()

	repo := e.newRecord(summary)
	logger := e.logger.With(zap.String("repository", summary.FullName))

	// An empty repository has no branch to read the overlay or any file from.
	if summary.DefaultBranch == "" {
		logger.Debug("repository has no default branch, nothing to crawl")
		if excluded, reason := e.matcher.Evaluate(summary.Name, crawler.RepositoryConfig{}); excluded {
			repo.Excluded = true
			repo.ExclusionReason = reason
			return repo, nil
		}
		e.runSearches(ctx, summary, &repo, logger)
		if err := ctx.Err(); err != nil {
			return repo, fmt.Errorf("enrich %s: %w", summary.FullName, err)
		}
		return repo, nil
	}

	cfg, err := e.overlay.Resolve(ctx, summary)
	switch {
	case errors.Is(err, overlay.ErrMalformedOverlay):
		logger.Warn("problem while parsing repository config, using defaults", zap.Error(err))
		repo.Skipped = true
		repo.SkipReason = err.Error()
		cfg = crawler.RepositoryConfig{}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "overlay")
		return repo, fmt.Errorf("enrich %s: %w", summary.FullName, err)
	}
	if len(cfg.Tags) > 0 {
		repo.Tags = slices.Clone(cfg.Tags)
	}

	if excluded, reason := e.matcher.Evaluate(summary.Name, cfg); excluded {
		logger.Debug("repository excluded", zap.String("reason", reason))
		repo.Excluded = true
		repo.ExclusionReason = reason
		span.SetAttributes(attribute.Bool("excluded", true))
		return repo, nil
	}

	branches, err := e.branchesToCrawl(ctx, summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "branches")
		return repo, fmt.Errorf("enrich %s: %w", summary.FullName, err)
	}

	files := overlay.EffectiveFiles(e.settings.Files, cfg)
	for _, branch := range branches {
		indicators, taskResults := e.enrichBranch(ctx, summary, branch, files, logger)
		repo.Indicators[branch.Name] = indicators
		if len(e.tasks) > 0 {
			repo.MiscTasksResults[branch.Name] = taskResults
		}
	}

	e.runSearches(ctx, summary, &repo, logger)

	if err := ctx.Err(); err != nil {
		return repo, fmt.Errorf("enrich %s: %w", summary.FullName, err)
	}
	return repo, nil
}

func (e *Enricher) newRecord(summary crawler.RepositorySummary) crawler.Repository {
	topics := summary.Topics
	if topics == nil {
		topics = []string{}
	}
	groups := slices.Clone(e.settings.Groups)
	if groups == nil {
		groups = []string{}
	}
	return crawler.Repository{
		Name:             summary.Name,
		FullName:         summary.FullName,
		URL:              summary.URL,
		DefaultBranch:    summary.DefaultBranch,
		Tags:             []string{},
		Topics:           slices.Clone(topics),
		Groups:           groups,
		CrawlerRunID:     e.settings.EffectiveRunID(),
		CreatedAt:        summary.CreatedAt,
		UpdatedAt:        summary.UpdatedAt,
		Indicators:       make(map[string]map[string]string),
		MiscTasksResults: make(map[string]map[string]any),
	}
}

func (e *Enricher) branchesToCrawl(ctx context.Context, summary crawler.RepositorySummary) ([]crawler.Branch, error) {
	if !e.settings.CrawlAllBranches {
		return []crawler.Branch{{Name: summary.DefaultBranch}}, nil
	}
	branches, err := e.host.ListBranches(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	seen := make(map[string]struct{}, len(branches))
	out := make([]crawler.Branch, 0, len(branches))
	for _, b := range branches {
		if _, dup := seen[b.Name]; dup || b.Name == "" {
			continue
		}
		seen[b.Name] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func (e *Enricher) enrichBranch(
	ctx context.Context,
	summary crawler.RepositorySummary,
	branch crawler.Branch,
	files []crawler.FileIndicators,
	logger *zap.Logger,
) (map[string]string, map[string]any) {
	ctx, span := e.tracer.Start(ctx, "enrich branch", trace.WithAttributes(attribute.String("branch", branch.Name)))
	defer span.End()
	logger = logger.With(zap.String("branch", branch.Name))

	indicators := make(map[string]string)
	for _, entry := range files {
		file, defs := entry.File, entry.Indicators
		if len(defs) == 0 {
			continue
		}
		content, err := e.host.FetchFile(ctx, summary, branch.Name, file.Path())
		if err != nil {
			if crawler.IsNotFound(err) {
				logger.Debug("file not found", zap.String("file", file.Name), zap.String("path", file.Path()))
			} else {
				logger.Warn("file fetch failed", zap.String("file", file.Name), zap.String("path", file.Path()), zap.Error(err))
			}
			continue
		}
		for _, def := range defs {
			for name, value := range e.parse(content, file.Path(), def, logger) {
				indicators[name] = value
				metrics.ObserveIndicator(def.Method)
			}
		}
	}

	results := make(map[string]any)
	for _, t := range e.tasks {
		out, err := runTask(ctx, t, summary, branch)
		if err != nil {
			logger.Warn("task failed", zap.String("task", t.Name()), zap.Error(err))
			continue
		}
		for k, v := range out {
			results[k] = v
		}
	}
	return indicators, results
}

func (e *Enricher) parse(content, path string, def crawler.IndicatorDefinition, logger *zap.Logger) (out map[string]string) {
	p, ok := e.parsers.Lookup(def.Method)
	if !ok {
		logger.Warn("no parser for indicator method", zap.String("indicator", def.Name), zap.String("method", def.Method))
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("parser panicked", zap.String("indicator", def.Name), zap.String("method", def.Method), zap.Any("panic", r))
			out = nil
		}
	}()
	return p.Parse(content, path, def)
}

func runTask(ctx context.Context, t crawler.RepoTask, summary crawler.RepositorySummary, branch crawler.Branch) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("task %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Run(ctx, summary, branch)
}

func (e *Enricher) runSearches(ctx context.Context, summary crawler.RepositorySummary, repo *crawler.Repository, logger *zap.Logger) {
	if len(e.settings.Searches) == 0 {
		return
	}
	repo.SearchResults = make(map[string]any, len(e.settings.Searches))
	for _, def := range e.settings.Searches {
		value, err := task.RunSearch(ctx, e.host, summary, def)
		if err != nil {
			logger.Warn("search failed", zap.String("search", def.Name), zap.Error(err))
			continue
		}
		repo.SearchResults[def.Name] = value
	}
}
