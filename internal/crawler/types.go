// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strings"
	"time"
)

// NoRunIDSentinel is stamped on every repository when no run id is configured.
const NoRunIDSentinel = "NO_CRAWLER_RUN_ID_DEFINED"

// RepositorySummary is one repository as listed by a remote host.
type RepositorySummary struct {
	// ID is the host specific identifier used in API calls (numeric id, slug, uuid).
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Owner         string   `json:"owner"`
	DefaultBranch string   `json:"default_branch"`
	URL           string   `json:"url"`
	CloneURL      string   `json:"clone_url"`
	Topics        []string `json:"topics,omitempty"`
	// CreatedAt and UpdatedAt are zero when the host does not report them.
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Branch identifies a branch by name. Equality is by name.
type Branch struct {
	Name string `json:"name"`
}

// FileToParse is a logical file name plus an optional redirect target.
type FileToParse struct {
	Name       string `json:"name" yaml:"name" mapstructure:"name"`
	RedirectTo string `json:"redirectTo,omitempty" yaml:"redirectTo" mapstructure:"redirect_to"`
}

// Path is the location actually fetched from the host.
func (f FileToParse) Path() string {
	if f.RedirectTo != "" {
		return f.RedirectTo
	}
	return f.Name
}

// IndicatorDefinition selects a parser and its arguments for one indicator.
type IndicatorDefinition struct {
	Name   string            `json:"name" mapstructure:"name"`
	Method string            `json:"method" mapstructure:"method"`
	Params map[string]string `json:"params,omitempty" mapstructure:"params"`
}

// Param returns a parameter value, matching the key case-insensitively.
func (d IndicatorDefinition) Param(key string) (string, bool) {
	return lookupParam(d.Params, key)
}

// RepoTaskDefinition configures one misc task.
type RepoTaskDefinition struct {
	Name   string            `json:"name" mapstructure:"name"`
	Type   string            `json:"type" mapstructure:"type"`
	Params map[string]string `json:"params,omitempty" mapstructure:"params"`
}

// Param returns a parameter value, matching the key case-insensitively.
func (d RepoTaskDefinition) Param(key string) (string, bool) {
	return lookupParam(d.Params, key)
}

// SearchDefinition is a code search executed once per repository.
type SearchDefinition struct {
	Name   string `json:"name" mapstructure:"name"`
	Query  string `json:"query" mapstructure:"query"`
	Method string `json:"method" mapstructure:"method"`
}

// FileIndicators groups the indicator definitions attached to one file.
type FileIndicators struct {
	File       FileToParse
	Indicators []IndicatorDefinition
}

// RepositoryConfig is the optional overlay document stored in a repository.
type RepositoryConfig struct {
	Excluded     bool          `json:"excluded" yaml:"excluded"`
	Tags         []string      `json:"tags" yaml:"tags"`
	FilesToParse []FileToParse `json:"filesToParse" yaml:"filesToParse"`
}

// SearchResult is the normalized payload of a code search.
type SearchResult struct {
	TotalCount int      `json:"total_count"`
	Paths      []string `json:"paths"`
}

// PullRequest is the minimal view of an open pull request.
type PullRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Commit is one commit with the size of its change.
type Commit struct {
	SHA string `json:"sha"`
	// AuthorLogin is empty when the author is not a known account.
	AuthorLogin string `json:"author_login,omitempty"`
	Changes     int    `json:"changes"`
}

// Team is an organization team.
type Team struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// TeamMember is one account of a team.
type TeamMember struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// Repository is the crawl result for one repository.
type Repository struct {
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	URL             string    `json:"url"`
	DefaultBranch   string    `json:"default_branch"`
	Excluded        bool      `json:"excluded"`
	ExclusionReason string    `json:"exclusion_reason,omitempty"`
	Skipped         bool      `json:"skipped"`
	SkipReason      string    `json:"skip_reason,omitempty"`
	Tags            []string  `json:"tags"`
	Topics          []string  `json:"topics"`
	Groups          []string  `json:"groups"`
	CrawlerRunID    string    `json:"crawler_run_id"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	// Indicators is keyed by branch name, then indicator name.
	Indicators map[string]map[string]string `json:"indicators"`
	// MiscTasksResults is keyed by branch name, then result key.
	MiscTasksResults map[string]map[string]any `json:"misc_tasks_results"`
	SearchResults    map[string]any            `json:"search_results,omitempty"`
}

// CrawledBranches returns the branch names that carry indicator entries.
func (r Repository) CrawledBranches() []string {
	names := make([]string, 0, len(r.Indicators))
	for name := range r.Indicators {
		names = append(names, name)
	}
	return names
}

// CrawlSettings is the read-only snapshot a single crawl runs against.
type CrawlSettings struct {
	Organization     string
	Files            []FileIndicators
	Tasks            []RepoTaskDefinition
	Searches         []SearchDefinition
	ExcludePatterns  []string
	IncludePatterns  []string
	PublishExcluded  bool
	CrawlAllBranches bool
	RunID            string
	Groups           []string
	OverlayPath      string
}

// EffectiveRunID returns the configured run id or the sentinel.
func (s CrawlSettings) EffectiveRunID() string {
	if strings.TrimSpace(s.RunID) == "" {
		return NoRunIDSentinel
	}
	return s.RunID
}

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters tracks per-run repository outcomes.
type RunCounters struct {
	Enumerated int `json:"enumerated"`
	Emitted    int `json:"emitted"`
	Excluded   int `json:"excluded"`
	Dropped    int `json:"dropped"`
	Failed     int `json:"failed"`
}

// Run is the bookkeeping record of one crawl execution.
type Run struct {
	ID           string      `json:"id"`
	CrawlerRunID string      `json:"crawler_run_id"`
	Organization string      `json:"organization"`
	Status       RunStatus   `json:"status"`
	Submitted    time.Time   `json:"submitted_at"`
	Started      *time.Time  `json:"started_at,omitempty"`
	Finished     *time.Time  `json:"finished_at,omitempty"`
	ErrorText    string      `json:"error_text,omitempty"`
	Counters     RunCounters `json:"counters"`
}

// QueueItem wraps one repository ready to be enriched.
type QueueItem struct {
	RunID      string
	Repository RepositorySummary
	Position   int
}

func lookupParam(params map[string]string, key string) (string, bool) {
	if v, ok := params[key]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
