package report

import (
	"context"
	"sort"
	"time"
)

// RecentRepositoriesName is the sink name used in configuration.
const RecentRepositoriesName = "recent_repositories"

const dateLayout = "2006-01-02"

// RecentRepositories lists the creation and last update date of every
// repository, most recently updated first.
type RecentRepositories struct {
	buffer
	path string
}

// NewRecentRepositories returns a sink writing to path.
func NewRecentRepositories(path string) (*RecentRepositories, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	return &RecentRepositories{path: path}, nil
}

// Name implements crawler.Sink.
func (*RecentRepositories) Name() string { return RecentRepositoriesName }

// Finalize writes the report.
func (s *RecentRepositories) Finalize(context.Context) error {
	repos := s.drain()
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].UpdatedAt.After(repos[j].UpdatedAt) })
	rows := make([][]string, 0, len(repos))
	for _, repo := range repos {
		rows = append(rows, []string{repo.Name, date(repo.CreatedAt), date(repo.UpdatedAt)})
	}
	return writeCSV(s.path, []string{"repositoryName", "creationDate", "lastUpdateDate"}, rows)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}
