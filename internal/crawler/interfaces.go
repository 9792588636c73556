package crawler

import (
	"context"
	"iter"
	"time"
)

// RemoteHost wraps one hosting platform's REST surface.
//
// Operations on optional resources return an error wrapping ErrNotFound when the
// resource is absent, so callers can tell absence apart from an unreachable host.
type RemoteHost interface {
	// ListRepositories lazily walks every page of the organization's repositories.
	// Each call restarts from the first page.
	ListRepositories(ctx context.Context, organization string) iter.Seq2[RepositorySummary, error]
	FetchFile(ctx context.Context, repo RepositorySummary, branch, path string) (string, error)
	ListBranches(ctx context.Context, repo RepositorySummary) ([]Branch, error)
	SearchCode(ctx context.Context, repo RepositorySummary, query string) (SearchResult, error)
	ListOpenPullRequests(ctx context.Context, repo RepositorySummary) ([]PullRequest, error)
}

// CommitHistory is implemented by hosts that expose per-commit statistics.
type CommitHistory interface {
	// ListCommits returns up to limit of the latest commits of branch, newest first.
	ListCommits(ctx context.Context, repo RepositorySummary, branch string, limit int) ([]Commit, error)
	// FetchCommit returns one commit with its author and change size.
	FetchCommit(ctx context.Context, repo RepositorySummary, sha string) (Commit, error)
}

// TeamDirectory is implemented by hosts that expose organization teams.
type TeamDirectory interface {
	ListTeams(ctx context.Context, organization string) ([]Team, error)
	ListTeamMembers(ctx context.Context, organization string, team Team) ([]TeamMember, error)
}

// IndicatorParser extracts named values from raw file content.
type IndicatorParser interface {
	Method() string
	Parse(content, path string, def IndicatorDefinition) map[string]string
}

// RepoTask runs one secondary analysis against a repository branch.
type RepoTask interface {
	Name() string
	Run(ctx context.Context, repo RepositorySummary, branch Branch) (map[string]any, error)
}

// RepoTaskBuilder creates a RepoTask from its definition.
type RepoTaskBuilder interface {
	Type() string
	Build(def RepoTaskDefinition) (RepoTask, error)
}

// RepositoryEnricher turns one summary into a complete Repository.
type RepositoryEnricher interface {
	Enrich(ctx context.Context, summary RepositorySummary) (Repository, error)
}

// Sink receives finished repositories. Finalize is called once per run.
type Sink interface {
	Name() string
	Output(ctx context.Context, repo Repository) error
	Finalize(ctx context.Context) error
}

// SinkAborter is implemented by sinks that hold per-run state between Output
// and Finalize. Abort is called instead of Finalize when a run fails, and
// leaves the sink ready for the next run.
type SinkAborter interface {
	Abort(ctx context.Context) error
}

// Queue provides enqueue/dequeue semantics for repositories awaiting enrichment.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RunStore persists run bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// RetryPolicy decides whether and when to retry a failed host call.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
