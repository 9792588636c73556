// Package worker implements the repository enrichment loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
	"github.com/JakeFAU/github-crawler/internal/metrics"
)

// ResultFunc receives every enriched repository, or the error that stopped it.
// Calls happen from multiple workers concurrently.
type ResultFunc func(ctx context.Context, item crawler.QueueItem, repo crawler.Repository, err error)

// Worker consumes queue items and enriches them.
type Worker struct {
	id       int
	queue    crawler.Queue
	enricher crawler.RepositoryEnricher
	onResult ResultFunc
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue crawler.Queue,
	enricher crawler.RepositoryEnricher,
	onResult ResultFunc,
	logger *zap.Logger,
) *Worker {
	if onResult == nil {
		onResult = func(context.Context, crawler.QueueItem, crawler.Repository, error) {}
	}
	return &Worker{
		id:       id,
		queue:    queue,
		enricher: enricher,
		onResult: onResult,
		logger:   logging.OrNop(logger).With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the queue is closed and drained or
// the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued repository",
			zap.String("repository", item.Repository.FullName),
			zap.Int("position", item.Position))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	repo, err := w.enrich(ctx, item)
	if err != nil {
		w.logger.Warn("repository enrichment failed",
			zap.String("repository", item.Repository.FullName), zap.Error(err))
	}
	w.onResult(ctx, item, repo, err)
}

func (w *Worker) enrich(ctx context.Context, item crawler.QueueItem) (repo crawler.Repository, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrich %s panicked: %v", item.Repository.FullName, r)
		}
	}()
	return w.enricher.Enrich(ctx, item.Repository)
}
