// Package task builds the misc repository tasks that run next to the file indicators.
package task

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Task types understood by the default registry.
const (
	TypeCountHitsOnRepoSearch    = "countHitsOnRepoSearch"
	TypePathsForHitsOnRepoSearch = "pathsForHitsOnRepoSearch"
	TypeNbBranchesOnRepo         = "nbBranchesOnRepo"
	TypeNbOpenPRsOnRepo          = "nbOpenPRsOnRepo"
)

// NotFound is reported when a path search returns no hit.
const NotFound = "not found"

// Registry holds the task builders, keyed by type.
type Registry struct {
	builders map[string]crawler.RepoTaskBuilder
}

// NewRegistry registers the given builders.
func NewRegistry(builders ...crawler.RepoTaskBuilder) *Registry {
	r := &Registry{builders: make(map[string]crawler.RepoTaskBuilder, len(builders))}
	for _, b := range builders {
		r.builders[b.Type()] = b
	}
	return r
}

// Default registers every built-in task against host.
func Default(host crawler.RemoteHost) *Registry {
	return NewRegistry(
		countHitsBuilder{host: host},
		pathsForHitsBuilder{host: host},
		nbBranchesBuilder{host: host},
		nbOpenPRsBuilder{host: host},
		ownershipBuilder{host: host},
	)
}

// Types lists the registered task types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build turns every definition into a task. An unknown type or a missing
// parameter fails the whole set.
func (r *Registry) Build(defs []crawler.RepoTaskDefinition) ([]crawler.RepoTask, error) {
	tasks := make([]crawler.RepoTask, 0, len(defs))
	for _, def := range defs {
		builder, ok := r.builders[def.Type]
		if !ok {
			return nil, fmt.Errorf("task %q: unknown type %q", def.Name, def.Type)
		}
		t, err := builder.Build(def)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", def.Name, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func requiredParam(def crawler.RepoTaskDefinition, keys ...string) (string, error) {
	for _, k := range keys {
		if v, ok := def.Param(k); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("missing param %q", keys[0])
}

type countHitsBuilder struct{ host crawler.RemoteHost }

func (countHitsBuilder) Type() string { return TypeCountHitsOnRepoSearch }

func (b countHitsBuilder) Build(def crawler.RepoTaskDefinition) (crawler.RepoTask, error) {
	query, err := requiredParam(def, "queryString")
	if err != nil {
		return nil, err
	}
	return &countHits{name: def.Name, query: query, host: b.host}, nil
}

// countHits reports the number of code search hits in the repository.
type countHits struct {
	name  string
	query string
	host  crawler.RemoteHost
}

func (t *countHits) Name() string { return t.name }

func (t *countHits) Run(ctx context.Context, repo crawler.RepositorySummary, _ crawler.Branch) (map[string]any, error) {
	result, err := t.host.SearchCode(ctx, repo, t.query)
	if err != nil {
		return nil, err
	}
	return map[string]any{t.name: result.TotalCount}, nil
}

type pathsForHitsBuilder struct{ host crawler.RemoteHost }

func (pathsForHitsBuilder) Type() string { return TypePathsForHitsOnRepoSearch }

func (b pathsForHitsBuilder) Build(def crawler.RepoTaskDefinition) (crawler.RepoTask, error) {
	query, err := requiredParam(def, "searchQuery", "queryString")
	if err != nil {
		return nil, err
	}
	return &pathsForHits{name: def.Name, query: query, host: b.host}, nil
}

// pathsForHits lists the paths of the code search hits.
type pathsForHits struct {
	name  string
	query string
	host  crawler.RemoteHost
}

func (t *pathsForHits) Name() string { return t.name }

func (t *pathsForHits) Run(ctx context.Context, repo crawler.RepositorySummary, _ crawler.Branch) (map[string]any, error) {
	result, err := t.host.SearchCode(ctx, repo, t.query)
	if err != nil {
		return nil, err
	}
	return map[string]any{t.name: pathsOrNotFound(result)}, nil
}

type nbBranchesBuilder struct{ host crawler.RemoteHost }

func (nbBranchesBuilder) Type() string { return TypeNbBranchesOnRepo }

func (b nbBranchesBuilder) Build(def crawler.RepoTaskDefinition) (crawler.RepoTask, error) {
	return &nbBranches{name: def.Name, host: b.host}, nil
}

type nbBranches struct {
	name string
	host crawler.RemoteHost
}

func (t *nbBranches) Name() string { return t.name }

func (t *nbBranches) Run(ctx context.Context, repo crawler.RepositorySummary, _ crawler.Branch) (map[string]any, error) {
	branches, err := t.host.ListBranches(ctx, repo)
	if err != nil {
		return nil, err
	}
	return map[string]any{t.name: len(branches)}, nil
}

type nbOpenPRsBuilder struct{ host crawler.RemoteHost }

func (nbOpenPRsBuilder) Type() string { return TypeNbOpenPRsOnRepo }

func (b nbOpenPRsBuilder) Build(def crawler.RepoTaskDefinition) (crawler.RepoTask, error) {
	return &nbOpenPRs{name: def.Name, host: b.host}, nil
}

type nbOpenPRs struct {
	name string
	host crawler.RemoteHost
}

func (t *nbOpenPRs) Name() string { return t.name }

func (t *nbOpenPRs) Run(ctx context.Context, repo crawler.RepositorySummary, _ crawler.Branch) (map[string]any, error) {
	pulls, err := t.host.ListOpenPullRequests(ctx, repo)
	if err != nil {
		return nil, err
	}
	return map[string]any{t.name: len(pulls)}, nil
}

func pathsOrNotFound(result crawler.SearchResult) any {
	if result.TotalCount == 0 || len(result.Paths) == 0 {
		return NotFound
	}
	return result.Paths
}
