package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/crawler"
)

func TestSinkWritesUnionOfColumns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "crawl.csv")
	s, err := New(Config{Path: path, Clock: clock.NewFixed(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))})
	require.NoError(t, err)

	require.NoError(t, s.Output(context.Background(), crawler.Repository{
		Name: "b", FullName: "acme/b", DefaultBranch: "main",
		Indicators:       map[string]map[string]string{"main": {"java": "17"}},
		MiscTasksResults: map[string]map[string]any{"main": {"nbBranches": 3}},
		SearchResults:    map[string]any{"jenkins": []string{"Jenkinsfile", "ci/Jenkinsfile"}},
	}))
	require.NoError(t, s.Output(context.Background(), crawler.Repository{
		Name: "a", FullName: "acme/a", DefaultBranch: "main", Tags: []string{"x", "y"},
		Indicators: map[string]map[string]string{"main": {"node": "20"}},
	}))
	require.NoError(t, s.Finalize(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	n := len(fixedColumns)
	assert.Equal(t, []string{"java", "node", "task.nbBranches", "search.jenkins"}, header[n:])
	assert.Equal(t, "acme/a", rows[1][1])
	assert.Equal(t, "x;y", rows[1][5])
	assert.Equal(t, []string{"", "20", "", ""}, rows[1][n:])
	assert.Equal(t, []string{"17", "", "3", "Jenkinsfile;ci/Jenkinsfile"}, rows[2][n:])
	assert.Equal(t, "2024-01-02T03:04:05Z", rows[2][13])
}

func TestSinkAbortDropsBufferedRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawl.csv")
	s, err := New(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.Output(context.Background(), crawler.Repository{Name: "ghost", FullName: "acme/ghost", DefaultBranch: "main"}))
	require.NoError(t, s.Abort(context.Background()))
	require.NoError(t, s.Output(context.Background(), crawler.Repository{Name: "alpha", FullName: "acme/alpha", DefaultBranch: "main"}))
	require.NoError(t, s.Finalize(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "acme/alpha")
	assert.NotContains(t, string(data), "acme/ghost")
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
