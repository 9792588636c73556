package report

import (
	"context"
	"fmt"
)

// Sink names used in configuration.
const (
	CIdroidCSVName  = "cidroid_csv"
	CIdroidJSONName = "cidroid_json"
)

func requireIndicators(indicators []string) error {
	if len(indicators) == 0 {
		return fmt.Errorf("at least one indicator is required")
	}
	return nil
}

// CIdroidCSV writes one row per repository branch with the chosen indicators.
type CIdroidCSV struct {
	buffer
	path       string
	indicators []string
}

// NewCIdroidCSV returns a CSV resource list of indicators.
func NewCIdroidCSV(path string, indicators []string) (*CIdroidCSV, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	if err := requireIndicators(indicators); err != nil {
		return nil, err
	}
	return &CIdroidCSV{path: path, indicators: append([]string(nil), indicators...)}, nil
}

// Name implements crawler.Sink.
func (*CIdroidCSV) Name() string { return CIdroidCSVName }

// Finalize writes the report. Missing values are written as NotAvailable.
func (s *CIdroidCSV) Finalize(context.Context) error {
	header := append([]string{"repositoryFullName", "branchName"}, s.indicators...)
	var rows [][]string
	for _, repo := range s.drain() {
		branches, values := branchValues(repo)
		for _, branch := range branches {
			row := []string{repo.FullName, branch}
			for _, name := range s.indicators {
				v, ok := values[branch][name]
				if !ok {
					row = append(row, NotAvailable)
					continue
				}
				row = append(row, format(v))
			}
			rows = append(rows, row)
		}
	}
	return writeCSV(s.path, header, rows)
}

// CIdroidJSON writes the resource array of a CI-droid bulk action. The first
// indicator is expected to hold the path of the file to act on; the others
// are carried as otherIndicator1, otherIndicator2 and so on.
type CIdroidJSON struct {
	buffer
	path       string
	indicators []string
	withTags   bool
}

// NewCIdroidJSON returns a JSON resource list. withTags adds the overlay tags.
func NewCIdroidJSON(path string, indicators []string, withTags bool) (*CIdroidJSON, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	if err := requireIndicators(indicators); err != nil {
		return nil, err
	}
	return &CIdroidJSON{path: path, indicators: append([]string(nil), indicators...), withTags: withTags}, nil
}

// Name implements crawler.Sink.
func (*CIdroidJSON) Name() string { return CIdroidJSONName }

// Finalize writes the report.
func (s *CIdroidJSON) Finalize(context.Context) error {
	resources := []map[string]any{}
	for _, repo := range s.drain() {
		branches, values := branchValues(repo)
		for _, branch := range branches {
			resource := map[string]any{
				"repoFullName":   repo.FullName,
				"filePathOnRepo": firstPath(values[branch][s.indicators[0]]),
				"branchName":     branch,
			}
			for i, name := range s.indicators[1:] {
				resource[fmt.Sprintf("otherIndicator%d", i+1)] = values[branch][name]
			}
			if s.withTags {
				resource["tags"] = repo.Tags
			}
			resources = append(resources, resource)
		}
	}
	return writeJSON(s.path, resources)
}

// firstPath unwraps path lists, such as the result of a path search.
func firstPath(v any) any {
	if paths, ok := pathList(v); ok {
		if len(paths) == 0 {
			return nil
		}
		return paths[0]
	}
	return v
}
