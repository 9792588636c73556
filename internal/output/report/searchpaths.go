package report

import (
	"context"
	"fmt"
	"strings"
)

// SearchPathsName is the sink name used in configuration.
const SearchPathsName = "search_paths"

// UnparsablePaths replaces the location when the search result is not a path list.
const UnparsablePaths = "unable to parse item path"

// SearchPaths writes one line per file found by a path search, so the hits
// of one search across the organization can be reworked in a spreadsheet.
// The search is either a default branch task or a repository search.
type SearchPaths struct {
	buffer
	path   string
	search string
}

// NewSearchPaths returns a sink reporting the paths found by search.
func NewSearchPaths(path, search string) (*SearchPaths, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	if strings.TrimSpace(search) == "" {
		return nil, fmt.Errorf("search name is required")
	}
	return &SearchPaths{path: path, search: search}, nil
}

// Name implements crawler.Sink.
func (*SearchPaths) Name() string { return SearchPathsName }

// Finalize writes the report. Repositories the search did not run on are left out.
func (s *SearchPaths) Finalize(context.Context) error {
	var rows [][]string
	for _, repo := range s.drain() {
		value, ok := repo.MiscTasksResults[repo.DefaultBranch][s.search]
		if !ok {
			value, ok = repo.SearchResults[s.search]
		}
		if !ok {
			continue
		}
		paths, ok := pathList(value)
		if !ok {
			rows = append(rows, []string{repo.FullName, UnparsablePaths})
			continue
		}
		for _, p := range paths {
			rows = append(rows, []string{repo.FullName, p})
		}
	}
	return writeCSV(s.path, []string{"repositoryFullName", "location"}, rows)
}

func pathList(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		return val, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	default:
		return nil, false
	}
}
