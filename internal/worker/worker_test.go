package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/queue/memory"
)

type fakeEnricher struct {
	fail  map[string]error
	panic map[string]bool
}

func (f *fakeEnricher) Enrich(_ context.Context, summary crawler.RepositorySummary) (crawler.Repository, error) {
	if f.panic[summary.Name] {
		panic("enricher exploded")
	}
	if err, ok := f.fail[summary.Name]; ok {
		return crawler.Repository{Name: summary.Name}, err
	}
	return crawler.Repository{Name: summary.Name, FullName: summary.FullName}, nil
}

type recorder struct {
	mu      sync.Mutex
	repos   []string
	failure map[string]error
}

func (r *recorder) handle(_ context.Context, item crawler.QueueItem, repo crawler.Repository, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.failure == nil {
			r.failure = make(map[string]error)
		}
		r.failure[item.Repository.Name] = err
		return
	}
	r.repos = append(r.repos, repo.Name)
}

func fill(t *testing.T, q *memory.Queue, names ...string) {
	t.Helper()
	for i, name := range names {
		require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{
			RunID:      "run",
			Repository: crawler.RepositorySummary{Name: name, FullName: "acme/" + name},
			Position:   i + 1,
		}))
	}
	q.Close()
}

func TestWorker_RunDrainsQueueAndStops(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(3)
	fill(t, q, "a", "b", "c")
	rec := &recorder{}
	w := New(1, q, &fakeEnricher{}, rec.handle, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue closed")
	}
	assert.Equal(t, []string{"a", "b", "c"}, rec.repos)
}

func TestWorker_FailuresAndPanicsReachHandler(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(3)
	fill(t, q, "ok", "bad", "boom")
	rec := &recorder{}
	enricher := &fakeEnricher{
		fail:  map[string]error{"bad": errors.New("host down")},
		panic: map[string]bool{"boom": true},
	}
	New(1, q, enricher, rec.handle, zap.NewNop()).Run(context.Background())

	assert.Equal(t, []string{"ok"}, rec.repos)
	require.Len(t, rec.failure, 2)
	assert.EqualError(t, rec.failure["bad"], "host down")
	assert.Contains(t, rec.failure["boom"].Error(), "panicked")
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(1, q, &fakeEnricher{}, nil, zap.NewNop()).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
