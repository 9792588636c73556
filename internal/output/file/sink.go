// Package file writes crawl records to a JSON lines file, one file per run.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

// Name is the sink name used in configuration.
const Name = "file"

// Config controls where run files are written.
type Config struct {
	Dir    string
	Prefix string
	Clock  crawler.Clock
}

// Sink appends one JSON line per record. The file is opened on the first
// record of a run and closed by Finalize.
type Sink struct {
	dir    string
	prefix string
	clock  crawler.Clock

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// New returns a sink rooted at cfg.Dir.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", cfg.Dir, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "crawl"
	}
	return &Sink{dir: cfg.Dir, prefix: prefix, clock: output.ClockOrSystem(cfg.Clock)}, nil
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Path returns the file of the current or most recent run.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Output writes every branch record of repo.
func (s *Sink) Output(ctx context.Context, repo crawler.Repository) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		if err := s.open(repo.CrawlerRunID, now.Format("20060102T150405")); err != nil {
			return err
		}
	}
	for _, rec := range output.Records(repo, now) {
		data, err := output.Marshal(rec)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("write record to %s: %w", s.path, err)
		}
	}
	return nil
}

func (s *Sink) open(runID, stamp string) error {
	name := fmt.Sprintf("%s-%s-%s.jsonl", s.prefix, sanitize(runID), stamp)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open output file %s: %w", path, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.path = path
	return nil
}

// Finalize flushes and closes the run file. A run that emitted nothing leaves
// no file behind.
func (s *Sink) Finalize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRun()
}

// Abort closes the partial file of a failed run so the next run opens its own.
func (s *Sink) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRun()
}

func (s *Sink) closeRun() error {
	if s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f, s.w = nil, nil
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", s.path, closeErr)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
