// Package overlay reads the optional per-repository config file and merges it
// with the server side file list.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
)

// DefaultPath is where repositories keep their crawler overlay, on every host.
const DefaultPath = ".githubCrawler"

// ErrMalformedOverlay marks an overlay document that could not be parsed.
var ErrMalformedOverlay = errors.New("malformed repository config")

// FileFetcher is the slice of crawler.RemoteHost the resolver needs.
type FileFetcher interface {
	FetchFile(ctx context.Context, repo crawler.RepositorySummary, branch, path string) (string, error)
}

// Resolver fetches and parses overlays from the default branch.
type Resolver struct {
	host   FileFetcher
	path   string
	logger *zap.Logger
}

// NewResolver builds a Resolver. An empty path means DefaultPath.
func NewResolver(host FileFetcher, path string, logger *zap.Logger) *Resolver {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Resolver{host: host, path: path, logger: logging.OrNop(logger).Named("overlay")}
}

// Path returns the overlay location inside repositories.
func (r *Resolver) Path() string { return r.path }

// Resolve returns the repository overlay. A missing file yields an empty
// config and no error. A document that does not parse yields an empty config
// and an error wrapping ErrMalformedOverlay. Any other error is a fetch failure.
func (r *Resolver) Resolve(ctx context.Context, repo crawler.RepositorySummary) (crawler.RepositoryConfig, error) {
	content, err := r.host.FetchFile(ctx, repo, repo.DefaultBranch, r.path)
	if err != nil {
		if crawler.IsNotFound(err) {
			r.logger.Debug("no repository config", zap.String("repository", repo.FullName))
			return crawler.RepositoryConfig{}, nil
		}
		return crawler.RepositoryConfig{}, fmt.Errorf("fetch repository config: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return crawler.RepositoryConfig{}, err
	}
	return cfg, nil
}

// Parse decodes an overlay document. JSON documents are accepted too.
func Parse(content string) (crawler.RepositoryConfig, error) {
	var cfg crawler.RepositoryConfig
	if strings.TrimSpace(content) == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return crawler.RepositoryConfig{}, fmt.Errorf("%w: %v", ErrMalformedOverlay, err)
	}
	for i, f := range cfg.FilesToParse {
		if strings.TrimSpace(f.Name) == "" {
			return crawler.RepositoryConfig{}, fmt.Errorf("%w: filesToParse[%d] has no name", ErrMalformedOverlay, i)
		}
	}
	return cfg, nil
}

// EffectiveFiles returns the global entries in their order, each paired with
// its own indicators. An overlay entry redirects every global entry sharing
// its logical name; the first overlay entry for a name wins. Overlay entries
// naming files that are not configured globally are ignored, since no
// indicator is attached to them.
func EffectiveFiles(global []crawler.FileIndicators, cfg crawler.RepositoryConfig) []crawler.FileIndicators {
	overrides := make(map[string]crawler.FileToParse, len(cfg.FilesToParse))
	for _, f := range cfg.FilesToParse {
		if _, seen := overrides[f.Name]; !seen {
			overrides[f.Name] = f
		}
	}
	out := make([]crawler.FileIndicators, 0, len(global))
	for _, entry := range global {
		if o, ok := overrides[entry.File.Name]; ok {
			entry.File = o
		}
		out = append(out, entry)
	}
	return out
}
