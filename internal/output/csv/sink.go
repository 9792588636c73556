// Package csv buffers crawl records and writes them as a single CSV file when
// the run is finalized.
package csv

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
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "csv"

var fixedColumns = []string{
	"name", "fullName", "url", "branchName", "defaultBranch", "tags", "topics", "groups",
	"crawlerRunId", "excluded", "exclusionReason", "skipped", "skipReason", "timestamp",
}

// Config controls the CSV sink.
type Config struct {
	Path  string
	Clock crawler.Clock
}

// Sink collects records until Finalize.
type Sink struct {
	path  string
	clock crawler.Clock

	mu      sync.Mutex
	records []output.Record
}

// New returns a CSV sink that writes to cfg.Path.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	return &Sink{path: cfg.Path, clock: output.ClockOrSystem(cfg.Clock)}, nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output buffers the records of repo.
func (s *Sink) Output(_ context.Context, repo crawler.Repository) error {
	recs := output.Records(repo, s.clock.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recs...)
	return nil
}

// Abort drops the buffered records of a failed run.
func (s *Sink) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

// Finalize writes every buffered record, one row per branch. Indicator,
// task and search columns are the union over all records.
func (s *Sink) Finalize(context.Context) error {
	s.mu.Lock()
	recs := s.records
	s.records = nil
	s.mu.Unlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Key() < recs[j].Key() })
	indicators, tasks, searches := columns(recs)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create csv %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)

	header := append([]string{}, fixedColumns...)
	header = append(header, indicators...)
	for _, k := range tasks {
		header = append(header, "task."+k)
	}
	for _, k := range searches {
		header = append(header, "search."+k)
	}
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.Name, rec.FullName, rec.URL, rec.BranchName, strconv.FormatBool(rec.DefaultBranch),
			strings.Join(rec.Tags, ";"), strings.Join(rec.Topics, ";"), strings.Join(rec.Groups, ";"),
			rec.CrawlerRunID, strconv.FormatBool(rec.Excluded), rec.ExclusionReason,
			strconv.FormatBool(rec.Skipped), rec.SkipReason, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
		for _, k := range indicators {
			row = append(row, rec.Indicators[k])
		}
		for _, k := range tasks {
			row = append(row, cell(rec.MiscTasksResults, k))
		}
		for _, k := range searches {
			row = append(row, cell(rec.SearchResults, k))
		}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("write csv row %s: %w", rec.Key(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	return nil
}

func columns(recs []output.Record) (indicators, tasks, searches []string) {
	ind := map[string]struct{}{}
	tk := map[string]struct{}{}
	se := map[string]struct{}{}
	for _, rec := range recs {
		for k := range rec.Indicators {
			ind[k] = struct{}{}
		}
		for k := range rec.MiscTasksResults {
			tk[k] = struct{}{}
		}
		for k := range rec.SearchResults {
			se[k] = struct{}{}
		}
	}
	return sortedKeys(ind), sortedKeys(tk), sortedKeys(se)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cell(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ";")
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
