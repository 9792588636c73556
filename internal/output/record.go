// Package output flattens crawled repositories into the per-branch records
// written by every sink.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Record is one repository branch as published downstream.
type Record struct {
	Name             string            `json:"name"`
	FullName         string            `json:"fullName"`
	URL              string            `json:"url"`
	BranchName       string            `json:"branchName"`
	DefaultBranch    bool              `json:"defaultBranch"`
	Indicators       map[string]string `json:"indicators"`
	Tags             []string          `json:"tags"`
	Topics           []string          `json:"topics"`
	Groups           []string          `json:"groups"`
	CrawlerRunID     string            `json:"crawlerRunId"`
	MiscTasksResults map[string]any    `json:"miscTasksResults"`
	SearchResults    map[string]any    `json:"searchResults"`
	Excluded         bool              `json:"excluded"`
	ExclusionReason  string            `json:"exclusionReason,omitempty"`
	Skipped          bool              `json:"skipped"`
	SkipReason       string            `json:"skipReason,omitempty"`
	CreatedAt        time.Time         `json:"creationDate,omitzero"`
	UpdatedAt        time.Time         `json:"lastUpdateDate,omitzero"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Key identifies a record within one run.
func (r Record) Key() string {
	return r.FullName + "@" + r.BranchName
}

// Records returns one record per crawled branch, sorted by branch name. An
// excluded repository, or one with no crawled branch, yields a single record
// on its default branch.
func Records(repo crawler.Repository, now time.Time) []Record {
	branches := repo.CrawledBranches()
	sort.Strings(branches)
	if len(branches) == 0 {
		branches = []string{repo.DefaultBranch}
	}
	searches := repo.SearchResults
	if searches == nil {
		searches = map[string]any{}
	}
	out := make([]Record, 0, len(branches))
	for _, branch := range branches {
		indicators := repo.Indicators[branch]
		if indicators == nil {
			indicators = map[string]string{}
		}
		tasks := repo.MiscTasksResults[branch]
		if tasks == nil {
			tasks = map[string]any{}
		}
		out = append(out, Record{
			Name:             repo.Name,
			FullName:         repo.FullName,
			URL:              repo.URL,
			BranchName:       branch,
			DefaultBranch:    branch == repo.DefaultBranch,
			Indicators:       indicators,
			Tags:             nonNil(repo.Tags),
			Topics:           nonNil(repo.Topics),
			Groups:           nonNil(repo.Groups),
			CrawlerRunID:     repo.CrawlerRunID,
			MiscTasksResults: tasks,
			SearchResults:    searches,
			Excluded:         repo.Excluded,
			ExclusionReason:  repo.ExclusionReason,
			Skipped:          repo.Skipped,
			SkipReason:       repo.SkipReason,
			CreatedAt:        repo.CreatedAt,
			UpdatedAt:        repo.UpdatedAt,
			Timestamp:        now.UTC(),
		})
	}
	return out
}

// Marshal encodes a record as compact JSON.
func Marshal(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", rec.Key(), err)
	}
	return data, nil
}

// ObjectName builds the object key used by the blob sinks.
func ObjectName(prefix, runID string, rec Record) string {
	name := fmt.Sprintf("%s/%s/%s.json", runID, rec.FullName, rec.BranchName)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
