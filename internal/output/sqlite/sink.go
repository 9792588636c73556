// Package sqlite stores crawl records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "sqlite"

// Config selects the database file. Use ":memory:" for an in-memory database.
type Config struct {
	Path  string
	Clock crawler.Clock
}

// Sink upserts one row per repository branch and run.
type Sink struct {
	db    *sql.DB
	mu    sync.Mutex
	clock crawler.Clock
}

// Open opens the database and creates the record table when missing.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("outputs.sqlite.path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db, clock: output.ClockOrSystem(cfg.Clock)}
	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Sink) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_records (
		crawler_run_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		branch TEXT NOT NULL,
		default_branch INTEGER NOT NULL,
		is_excluded INTEGER NOT NULL,
		is_skipped INTEGER NOT NULL,
		record TEXT NOT NULL,
		crawled_at INTEGER NOT NULL,
		PRIMARY KEY (crawler_run_id, repository, branch)
	);
	CREATE INDEX IF NOT EXISTS idx_crawl_records_repository ON crawl_records(repository);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output upserts every branch record of repo.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range output.Records(repo, s.clock.Now()) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
		INSERT INTO crawl_records (crawler_run_id, repository, branch, default_branch, is_excluded, is_skipped, record, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (crawler_run_id, repository, branch) DO UPDATE SET
			default_branch = excluded.default_branch,
			is_excluded = excluded.is_excluded,
			is_skipped = excluded.is_skipped,
			record = excluded.record,
			crawled_at = excluded.crawled_at`,
			rec.CrawlerRunID, rec.FullName, rec.BranchName,
			rec.DefaultBranch, rec.Excluded, rec.Skipped,
			string(data), rec.Timestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.Key(), err)
		}
	}
	return nil
}

// Finalize is a no-op; rows are committed on Output.
func (*Sink) Finalize(context.Context) error { return nil }

// Count returns the number of rows stored for runID.
func (s *Sink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM crawl_records WHERE crawler_run_id = ?", runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}
