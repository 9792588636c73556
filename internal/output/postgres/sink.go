// Package postgres upserts crawl records into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "postgres"

const defaultTable = "crawl_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Clock           crawler.Clock
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes one row per repository branch and run.
type Sink struct {
	pool  execCloser
	table string
	clock crawler.Clock
}

// New connects to Postgres and creates the record table when missing.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("outputs.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table, cfg.Clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool.
func NewWithPool(pool execCloser, table string, clk crawler.Clock) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table, clock: output.ClockOrSystem(clk)}, nil
}

// EnsureSchema creates the record table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	crawler_run_id TEXT NOT NULL,
	repository     TEXT NOT NULL,
	branch         TEXT NOT NULL,
	default_branch BOOLEAN NOT NULL,
	is_excluded    BOOLEAN NOT NULL,
	is_skipped     BOOLEAN NOT NULL,
	record         JSONB NOT NULL,
	crawled_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (crawler_run_id, repository, branch)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output upserts every branch record of repo.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	crawler_run_id,
	repository,
	branch,
	default_branch,
	is_excluded,
	is_skipped,
	record,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (crawler_run_id, repository, branch) DO UPDATE SET
	default_branch = EXCLUDED.default_branch,
	is_excluded    = EXCLUDED.is_excluded,
	is_skipped     = EXCLUDED.is_skipped,
	record         = EXCLUDED.record,
	crawled_at     = EXCLUDED.crawled_at`, s.table)

	for _, rec := range output.Records(repo, s.clock.Now()) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		args := []any{
			rec.CrawlerRunID,
			rec.FullName,
			rec.BranchName,
			rec.DefaultBranch,
			rec.Excluded,
			rec.Skipped,
			data,
			rec.Timestamp,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.Key(), err)
		}
	}
	return nil
}

// Finalize is a no-op; rows are committed on Output.
func (*Sink) Finalize(context.Context) error { return nil }

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
