package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Search result methods.
const (
	SearchMethodCount = "count"
	SearchMethodPath  = "path"
)

// ValidateSearch checks a run-level search definition.
func ValidateSearch(def crawler.SearchDefinition) error {
	if strings.TrimSpace(def.Name) == "" || strings.TrimSpace(def.Query) == "" {
		return fmt.Errorf("search needs a name and a query")
	}
	switch def.Method {
	case SearchMethodCount, SearchMethodPath:
		return nil
	default:
		return fmt.Errorf("search %q: unknown method %q", def.Name, def.Method)
	}
}

// RunSearch executes one search against repo and summarizes it per def.Method.
func RunSearch(ctx context.Context, host crawler.RemoteHost, repo crawler.RepositorySummary, def crawler.SearchDefinition) (any, error) {
	if err := ValidateSearch(def); err != nil {
		return nil, err
	}
	result, err := host.SearchCode(ctx, repo, def.Query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", def.Name, err)
	}
	if def.Method == SearchMethodCount {
		return result.TotalCount, nil
	}
	return pathsOrNotFound(result), nil
}
