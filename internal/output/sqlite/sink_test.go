package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()

	s, err := Open(context.Background(), Config{
		Path:  ":memory:",
		Clock: clock.NewFixed(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOutputStoresRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSink(t)

	repo := crawler.Repository{
		Name: "svc", FullName: "acme/svc", DefaultBranch: "main", CrawlerRunID: "run-1",
		Indicators: map[string]map[string]string{"main": {"v": "1"}, "dev": {"v": "2"}},
	}
	require.NoError(t, s.Output(ctx, repo))
	require.NoError(t, s.Finalize(ctx))

	n, err := s.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var raw string
	var isDefault bool
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT record, default_branch FROM crawl_records WHERE repository = ? AND branch = ?", "acme/svc", "main").
		Scan(&raw, &isDefault))
	assert.True(t, isDefault)
	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "1", rec.Indicators["v"])
}

func TestOutputUpsertsOnSameKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSink(t)

	repo := crawler.Repository{
		Name: "svc", FullName: "acme/svc", DefaultBranch: "main", CrawlerRunID: "run-1",
		Indicators: map[string]map[string]string{"main": {"v": "1"}},
	}
	require.NoError(t, s.Output(ctx, repo))
	repo.Indicators["main"]["v"] = "2"
	require.NoError(t, s.Output(ctx, repo))

	n, err := s.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var raw string
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT record FROM crawl_records").Scan(&raw))
	assert.Contains(t, raw, `"v":"2"`)
}

func TestOpenOnDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "records.db")
	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Output(ctx, crawler.Repository{Name: "a", FullName: "acme/a", DefaultBranch: "main", CrawlerRunID: "r"}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
