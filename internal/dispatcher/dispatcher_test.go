package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/queue/memory"
	"github.com/JakeFAU/github-crawler/internal/worker"
)

type countingEnricher struct{ calls atomic.Int32 }

func (c *countingEnricher) Enrich(_ context.Context, s crawler.RepositorySummary) (crawler.Repository, error) {
	c.calls.Add(1)
	return crawler.Repository{Name: s.Name}, nil
}

// TestDispatcherRunsUntilQueueDrained ensures every worker exits once the queue closes.
func TestDispatcherRunsUntilQueueDrained(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(10)
	enricher := &countingEnricher{}
	workers := []*worker.Worker{
		worker.New(1, q, enricher, nil, zap.NewNop()),
		worker.New(2, q, enricher, nil, zap.NewNop()),
		worker.New(3, q, enricher, nil, zap.NewNop()),
	}
	d := New(q, workers)
	done := d.Start(context.Background())

	for i := range 10 {
		require.NoError(t, d.Enqueue(context.Background(), crawler.QueueItem{Position: i}))
	}
	q.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not finish after queue closed")
	}
	assert.Equal(t, int32(10), enricher.calls.Load())
}

// TestDispatcherStopsOnCancel verifies idle workers return when the context ends.
func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	d := New(q, []*worker.Worker{worker.New(1, q, &countingEnricher{}, nil, zap.NewNop())})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, nil)
	err := d.Enqueue(context.Background(), crawler.QueueItem{RunID: "run"})
	assert.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct{ err error }

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error { return q.err }

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, q.err
}
