package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// TypeRepositoryOwnership computes the team owning a repository.
const TypeRepositoryOwnership = "repositoryOwnershipComputation"

// OwnershipUndefined is reported when no team can be credited.
const OwnershipUndefined = "Undefined"

const defaultOwnershipCommits = 150

// Teams that span the whole organization and would own everything.
var defaultExcludedTeams = []string{"Developers", "Tech Leads", "Architects"}

var errNoOwnershipSource = errors.New("host does not expose commit history and teams")

type ownershipBuilder struct{ host crawler.RemoteHost }

func (ownershipBuilder) Type() string { return TypeRepositoryOwnership }

func (b ownershipBuilder) Build(def crawler.RepoTaskDefinition) (crawler.RepoTask, error) {
	commits, ok := b.host.(crawler.CommitHistory)
	if !ok {
		return nil, errNoOwnershipSource
	}
	teams, ok := b.host.(crawler.TeamDirectory)
	if !ok {
		return nil, errNoOwnershipSource
	}

	limit := defaultOwnershipCommits
	if raw, ok := def.Param("lastCommits"); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("param %q must be a positive integer, got %q", "lastCommits", raw)
		}
		limit = n
	}

	excluded := defaultExcludedTeams
	if raw, ok := def.Param("excludedTeams"); ok {
		excluded = nil
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				excluded = append(excluded, name)
			}
		}
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[name] = struct{}{}
	}

	return &ownership{
		name:     def.Name,
		commits:  commits,
		teams:    teams,
		limit:    limit,
		excluded: skip,
		members:  make(map[string]map[string][]string),
	}, nil
}

// ownership credits each team with the changes its members made in the
// latest commits of the default branch; the team with the most changes owns
// the repository. Team membership is read once per organization.
type ownership struct {
	name     string
	commits  crawler.CommitHistory
	teams    crawler.TeamDirectory
	limit    int
	excluded map[string]struct{}

	mu      sync.Mutex
	members map[string]map[string][]string // organization -> login -> team names
}

func (t *ownership) Name() string { return t.name }

func (t *ownership) Run(ctx context.Context, repo crawler.RepositorySummary, branch crawler.Branch) (map[string]any, error) {
	if branch.Name != repo.DefaultBranch {
		return nil, nil
	}
	membership, err := t.membership(ctx, repo.Owner)
	if err != nil {
		return nil, err
	}
	if len(membership) == 0 {
		return map[string]any{t.name: OwnershipUndefined}, nil
	}

	commits, err := t.commits.ListCommits(ctx, repo, branch.Name, t.limit)
	if err != nil {
		return nil, err
	}
	changes := make(map[string]int)
	for _, c := range commits {
		detailed, err := t.commits.FetchCommit(ctx, repo, c.SHA)
		if err != nil {
			return nil, err
		}
		if detailed.AuthorLogin == "" {
			continue
		}
		for _, team := range membership[detailed.AuthorLogin] {
			changes[team] += detailed.Changes
		}
	}
	return map[string]any{t.name: topTeam(changes)}, nil
}

func (t *ownership) membership(ctx context.Context, organization string) (map[string][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.members[organization]; ok {
		return m, nil
	}

	teams, err := t.teams.ListTeams(ctx, organization)
	if err != nil {
		return nil, err
	}
	m := make(map[string][]string)
	for _, team := range teams {
		if _, skip := t.excluded[team.Name]; skip {
			continue
		}
		members, err := t.teams.ListTeamMembers(ctx, organization, team)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			m[member.Login] = append(m[member.Login], team.Name)
		}
	}
	t.members[organization] = m
	return m, nil
}

// topTeam picks the team with the most changes, breaking ties by name.
func topTeam(changes map[string]int) string {
	if len(changes) == 0 {
		return OwnershipUndefined
	}
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if changes[names[i]] != changes[names[j]] {
			return changes[names[i]] > changes[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}
