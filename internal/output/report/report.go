// Package report writes single-file reports built from a whole run: recently
// created or updated repositories, code search hit locations, and resource
// lists ready to paste into a CI-droid bulk action.
//
// Every sink here buffers the repositories it receives and writes its file on
// Finalize. Abort drops the buffer of a failed run.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// NotAvailable fills cells whose indicator has no value.
const NotAvailable = "N/A"

type buffer struct {
	mu    sync.Mutex
	repos []crawler.Repository
}

// Output buffers repo until Finalize.
func (b *buffer) Output(_ context.Context, repo crawler.Repository) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repos = append(b.repos, repo)
	return nil
}

// Abort drops the buffered repositories of a failed run.
func (b *buffer) Abort(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repos = nil
	return nil
}

// drain returns the buffered repositories sorted by full name and resets the buffer.
func (b *buffer) drain() []crawler.Repository {
	b.mu.Lock()
	repos := b.repos
	b.repos = nil
	b.mu.Unlock()
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].FullName < repos[j].FullName })
	return repos
}

func requirePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("report path is required")
	}
	return nil
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create report %s: %w", path, err)
	}
	return f, nil
}

// writeCSV writes a semicolon separated file.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header of %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// branchValues merges the task results and indicators of every crawled
// branch. Indicators win over task results of the same name.
func branchValues(repo crawler.Repository) (branches []string, values map[string]map[string]any) {
	values = make(map[string]map[string]any)
	for branch, results := range repo.MiscTasksResults {
		merged := make(map[string]any, len(results))
		for k, v := range results {
			merged[k] = v
		}
		values[branch] = merged
	}
	for branch, indicators := range repo.Indicators {
		merged, ok := values[branch]
		if !ok {
			merged = make(map[string]any, len(indicators))
			values[branch] = merged
		}
		for k, v := range indicators {
			merged[k] = v
		}
	}
	branches = make([]string, 0, len(values))
	for branch := range values {
		branches = append(branches, branch)
	}
	sort.Strings(branches)
	return branches, values
}

func format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case int:
		return strconv.Itoa(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
