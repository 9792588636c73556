// Package memory keeps emitted repositories in memory for tests and the API.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Name is the sink name used in configuration.
const Name = "memory"

// Sink stores every emitted repository for inspection.
type Sink struct {
	mu         sync.RWMutex
	repos      []crawler.Repository
	finalizeCt int
}

// New returns an empty memory Sink.
func New() *Sink {
	return &Sink{}
}

// Name implements crawler.Sink.
func (*Sink) Name() string { return Name }

// Output records repo.
func (s *Sink) Output(_ context.Context, repo crawler.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = append(s.repos, repo)
	return nil
}

// Finalize counts the call.
func (s *Sink) Finalize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeCt++
	return nil
}

// Repositories returns the recorded repositories in emission order.
func (s *Sink) Repositories() []crawler.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Repository, len(s.repos))
	copy(out, s.repos)
	return out
}

// Finalized reports how many times Finalize was called.
func (s *Sink) Finalized() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalizeCt
}

// Reset drops recorded state.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = nil
	s.finalizeCt = 0
}
