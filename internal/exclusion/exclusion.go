// Package exclusion decides which repositories are skipped by a crawl.
package exclusion

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Reasons recorded on excluded repositories.
const (
	ReasonServerConfig = "excluded from server config side"
	ReasonRepoConfig   = "excluded from repo config side"
	ReasonNotIncluded  = "not part of the repositories to include (server config side)"
)

// ErrBothPatternLists is returned when include and exclude patterns are combined.
var ErrBothPatternLists = errors.New("repositories to include and to exclude are mutually exclusive")

// Matcher evaluates a repository name against the run's patterns. Patterns
// must match the whole name.
type Matcher struct {
	exclude []*regexp.Regexp
	include []*regexp.Regexp
}

// New compiles the exclusion and inclusion patterns.
func New(exclude, include []string) (*Matcher, error) {
	if len(exclude) > 0 && len(include) > 0 {
		return nil, ErrBothPatternLists
	}
	ex, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}
	in, err := compileAll(include)
	if err != nil {
		return nil, err
	}
	return &Matcher{exclude: ex, include: in}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile repository pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ServerSide applies only the configured patterns.
func (m *Matcher) ServerSide(name string) (bool, string) {
	for _, re := range m.exclude {
		if re.MatchString(name) {
			return true, ReasonServerConfig
		}
	}
	if len(m.include) == 0 {
		return false, ""
	}
	for _, re := range m.include {
		if re.MatchString(name) {
			return false, ""
		}
	}
	return true, ReasonNotIncluded
}

// Evaluate combines the server side patterns with the repository overlay.
// Server side reasons take precedence.
func (m *Matcher) Evaluate(name string, cfg crawler.RepositoryConfig) (bool, string) {
	if excluded, reason := m.ServerSide(name); excluded {
		return true, reason
	}
	if cfg.Excluded {
		return true, ReasonRepoConfig
	}
	return false, ""
}
