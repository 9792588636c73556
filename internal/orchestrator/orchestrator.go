// Package orchestrator runs crawls: it enumerates an organization's
// repositories, fans them out to a bounded worker pool for enrichment and hands
// every finished record to the configured sinks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/dispatcher"
	"github.com/JakeFAU/github-crawler/internal/enricher"
	"github.com/JakeFAU/github-crawler/internal/exclusion"
	"github.com/JakeFAU/github-crawler/internal/id/uuid"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/metrics"
	"github.com/JakeFAU/github-crawler/internal/parser"
	"github.com/JakeFAU/github-crawler/internal/queue/memory"
	"github.com/JakeFAU/github-crawler/internal/task"
	"github.com/JakeFAU/github-crawler/internal/worker"
)

const defaultConcurrency = 4

// Observer is notified as a run progresses. Calls may come from several
// goroutines.
type Observer interface {
	RepositoryEnumerated(summary crawler.RepositorySummary)
	RepositoryCompleted(summary crawler.RepositorySummary, outcome string)
}

// Options wires an Orchestrator.
type Options struct {
	Host        crawler.RemoteHost
	Parsers     *parser.Registry
	Tasks       *task.Registry
	Sinks       []crawler.Sink
	Runs        crawler.RunStore
	Concurrency int
	QueueSize   int
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	Observer    Observer
	Logger      *zap.Logger
}

// Orchestrator executes at most one crawl at a time.
type Orchestrator struct {
	host        crawler.RemoteHost
	parsers     *parser.Registry
	tasks       *task.Registry
	sinks       []crawler.Sink
	runs        crawler.RunStore
	concurrency int
	queueSize   int
	clock       crawler.Clock
	ids         crawler.IDGenerator
	observer    Observer
	logger      *zap.Logger
	running     atomic.Bool
}

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Host == nil {
		return nil, errors.New("orchestrator: host is required")
	}
	logger := logging.OrNop(opts.Logger).Named("orchestrator")
	o := &Orchestrator{
		host:        opts.Host,
		parsers:     opts.Parsers,
		tasks:       opts.Tasks,
		sinks:       opts.Sinks,
		runs:        opts.Runs,
		concurrency: opts.Concurrency,
		queueSize:   opts.QueueSize,
		clock:       opts.Clock,
		ids:         opts.IDs,
		observer:    opts.Observer,
		logger:      logger,
	}
	if o.parsers == nil {
		o.parsers = parser.Default(opts.Logger)
	}
	if o.tasks == nil {
		o.tasks = task.Default(opts.Host)
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.queueSize <= 0 {
		o.queueSize = o.concurrency * 2
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	return o, nil
}

// Running reports whether a crawl is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Crawl executes one run against settings and blocks until it finishes.
// Configuration problems and a second concurrent call fail before anything is
// enumerated. A failed enumeration aborts the run without finalizing sinks.
func (o *Orchestrator) Crawl(ctx context.Context, settings crawler.CrawlSettings) (crawler.Run, error) {
	p, err := o.begin(ctx, settings)
	if err != nil {
		return p.run, err
	}
	return o.execute(ctx, p)
}

// Start validates settings and launches the run in the background. The
// returned run is in the queued state.
func (o *Orchestrator) Start(ctx context.Context, settings crawler.CrawlSettings) (crawler.Run, error) {
	p, err := o.begin(ctx, settings)
	if err != nil {
		return p.run, err
	}
	run := p.run
	go func() {
		if _, err := o.execute(context.WithoutCancel(ctx), p); err != nil {
			o.logger.Error("background crawl failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return run, nil
}

// Validate checks settings against the registered parsers and tasks without
// starting a run.
func (o *Orchestrator) Validate(settings crawler.CrawlSettings) error {
	_, err := o.prepare(settings)
	return err
}

type plan struct {
	run      crawler.Run
	settings crawler.CrawlSettings
	matcher  *exclusion.Matcher
	tasks    []crawler.RepoTask
}

func (o *Orchestrator) begin(ctx context.Context, settings crawler.CrawlSettings) (plan, error) {
	if !o.running.CompareAndSwap(false, true) {
		return plan{}, crawler.ErrRunInProgress
	}
	p, err := o.prepare(settings)
	if err == nil && o.runs != nil {
		if err = o.runs.CreateRun(ctx, p.run); err != nil {
			err = fmt.Errorf("record run: %w", err)
		}
	}
	if err != nil {
		o.running.Store(false)
		return plan{}, err
	}
	return p, nil
}

func (o *Orchestrator) prepare(settings crawler.CrawlSettings) (plan, error) {
	if settings.Organization == "" {
		return plan{}, errors.New("organization is required")
	}
	var methods []string
	for _, f := range settings.Files {
		for _, def := range f.Indicators {
			methods = append(methods, def.Method)
		}
	}
	if err := o.parsers.Require(methods...); err != nil {
		return plan{}, err
	}
	matcher, err := exclusion.New(settings.ExcludePatterns, settings.IncludePatterns)
	if err != nil {
		return plan{}, err
	}
	tasks, err := o.tasks.Build(settings.Tasks)
	if err != nil {
		return plan{}, err
	}
	for _, s := range settings.Searches {
		if err := task.ValidateSearch(s); err != nil {
			return plan{}, err
		}
	}
	id, err := o.ids.NewID()
	if err != nil {
		return plan{}, err
	}
	return plan{
		run: crawler.Run{
			ID:           id,
			CrawlerRunID: settings.EffectiveRunID(),
			Organization: settings.Organization,
			Status:       crawler.RunStatusQueued,
			Submitted:    o.clock.Now(),
		},
		settings: settings,
		matcher:  matcher,
		tasks:    tasks,
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, p plan) (crawler.Run, error) {
	defer o.running.Store(false)

	run := p.run
	logger := o.logger.With(zap.String("run_id", run.ID), zap.String("organization", run.Organization))
	started := o.clock.Now()
	run.Started = &started
	run.Status = crawler.RunStatusRunning
	o.updateRun(ctx, run, logger)
	logger.Info("crawl started",
		zap.String("crawler_run_id", run.CrawlerRunID),
		zap.Int("workers", o.concurrency),
		zap.Int("sinks", len(o.sinks)))

	enr, err := enricher.New(enricher.Options{
		Host:     o.host,
		Parsers:  o.parsers,
		Settings: p.settings,
		Matcher:  p.matcher,
		Tasks:    p.tasks,
		Logger:   logger,
	})
	if err != nil {
		return o.finish(ctx, run, err, logger)
	}

	st := &state{sinks: o.sinks, publishExcluded: p.settings.PublishExcluded, observer: o.observer, logger: logger}
	q := memory.NewQueue(o.queueSize)
	workers := make([]*worker.Worker, 0, o.concurrency)
	for i := range o.concurrency {
		workers = append(workers, worker.New(i+1, q, enr, st.handle, logger))
	}
	d := dispatcher.New(q, workers)
	done := d.Start(ctx)

	enumErr := o.enumerate(ctx, run.ID, p.settings.Organization, d, st, logger)
	q.Close()
	<-done

	run.Counters = st.snapshot()
	if enumErr != nil {
		o.abort(ctx, logger)
		return o.finish(ctx, run, enumErr, logger)
	}
	return o.finish(ctx, run, o.finalize(ctx, logger), logger)
}

func (o *Orchestrator) enumerate(
	ctx context.Context,
	runID, organization string,
	d *dispatcher.Dispatcher,
	st *state,
	logger *zap.Logger,
) error {
	seen := make(map[string]struct{})
	position := 0
	for summary, err := range o.host.ListRepositories(ctx, organization) {
		if err != nil {
			return fmt.Errorf("list repositories of %s: %w", organization, err)
		}
		key := summary.FullName
		if key == "" {
			key = summary.Name
		}
		if _, dup := seen[key]; dup {
			logger.Debug("duplicate repository in listing", zap.String("repository", key))
			continue
		}
		seen[key] = struct{}{}
		position++
		st.enumerated(summary)
		if err := d.Enqueue(ctx, crawler.QueueItem{RunID: runID, Repository: summary, Position: position}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, logger *zap.Logger) error {
	var errs []error
	for _, sink := range o.sinks {
		if err := sink.Finalize(ctx); err != nil {
			metrics.ObserveSinkError(sink.Name())
			logger.Warn("sink finalize failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("finalize %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// abort lets sinks holding per-run state discard it, so a failed run never
// leaks into the next one.
func (o *Orchestrator) abort(ctx context.Context, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range o.sinks {
		aborter, ok := sink.(crawler.SinkAborter)
		if !ok {
			continue
		}
		if err := aborter.Abort(ctx); err != nil {
			metrics.ObserveSinkError(sink.Name())
			logger.Warn("sink abort failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, run crawler.Run, runErr error, logger *zap.Logger) (crawler.Run, error) {
	finished := o.clock.Now()
	run.Finished = &finished
	if runErr != nil {
		run.Status = crawler.RunStatusFailed
		run.ErrorText = runErr.Error()
	} else {
		run.Status = crawler.RunStatusSucceeded
	}
	metrics.ObserveRun(string(run.Status))
	o.updateRun(context.WithoutCancel(ctx), run, logger)

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("enumerated", run.Counters.Enumerated),
		zap.Int("emitted", run.Counters.Emitted),
		zap.Int("excluded", run.Counters.Excluded),
		zap.Int("dropped", run.Counters.Dropped),
		zap.Int("failed", run.Counters.Failed),
		zap.Duration("duration", finished.Sub(*run.Started)),
	}
	if runErr != nil {
		logger.Error("crawl failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("crawl finished", fields...)
	}
	return run, runErr
}

func (o *Orchestrator) updateRun(ctx context.Context, run crawler.Run, logger *zap.Logger) {
	if o.runs == nil {
		return
	}
	if err := o.runs.UpdateRun(ctx, run.ID, run.Status, run.ErrorText, run.Counters); err != nil {
		logger.Warn("run status update failed", zap.String("status", string(run.Status)), zap.Error(err))
	}
}

// state is shared by the workers of one run.
type state struct {
	sinks           []crawler.Sink
	publishExcluded bool
	observer        Observer
	logger          *zap.Logger

	mu       sync.Mutex
	counters crawler.RunCounters
	sinkMu   sync.Mutex
}

func (s *state) enumerated(summary crawler.RepositorySummary) {
	s.mu.Lock()
	s.counters.Enumerated++
	s.mu.Unlock()
	if s.observer != nil {
		s.observer.RepositoryEnumerated(summary)
	}
}

func (s *state) snapshot() crawler.RunCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *state) handle(ctx context.Context, item crawler.QueueItem, repo crawler.Repository, err error) {
	outcome := s.classify(repo, err)
	s.mu.Lock()
	switch outcome {
	case metrics.OutcomeFailed:
		s.counters.Failed++
	case metrics.OutcomeDropped:
		s.counters.Excluded++
		s.counters.Dropped++
	case metrics.OutcomeExcluded:
		s.counters.Excluded++
		s.counters.Emitted++
	default:
		s.counters.Emitted++
	}
	s.mu.Unlock()
	metrics.ObserveRepository(outcome)

	switch outcome {
	case metrics.OutcomeFailed:
		s.logger.Error("repository failed", zap.String("repository", item.Repository.FullName), zap.Error(err))
	case metrics.OutcomeDropped:
		s.logger.Debug("excluded repository not published",
			zap.String("repository", repo.FullName), zap.String("reason", repo.ExclusionReason))
	default:
		s.emit(ctx, repo)
	}
	if s.observer != nil {
		s.observer.RepositoryCompleted(item.Repository, outcome)
	}
}

func (s *state) classify(repo crawler.Repository, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeFailed
	case repo.Excluded && !s.publishExcluded:
		return metrics.OutcomeDropped
	case repo.Excluded:
		return metrics.OutcomeExcluded
	default:
		return metrics.OutcomeEmitted
	}
}

// emit hands repo to every sink in configured order. Sinks are never called
// concurrently.
func (s *state) emit(ctx context.Context, repo crawler.Repository) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	for _, sink := range s.sinks {
		if err := sink.Output(ctx, repo); err != nil {
			metrics.ObserveSinkError(sink.Name())
			s.logger.Warn("sink output failed",
				zap.String("sink", sink.Name()), zap.String("repository", repo.FullName), zap.Error(err))
		}
	}
}
