package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

const defaultGitHubURL = "https://api.github.com"

// GitHub talks to the GitHub (or GitHub Enterprise) REST API v3.
type GitHub struct {
	client  *client
	baseURL string
	perPage int
	isUser  bool
}

type githubRepo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	DefaultBranch string    `json:"default_branch"`
	HTMLURL       string    `json:"html_url"`
	CloneURL      string    `json:"clone_url"`
	Topics        []string  `json:"topics"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r githubRepo) summary() crawler.RepositorySummary {
	return crawler.RepositorySummary{
		ID:            strconv.FormatInt(r.ID, 10),
		Name:          r.Name,
		FullName:      r.FullName,
		Owner:         r.Owner.Login,
		DefaultBranch: r.DefaultBranch,
		URL:           r.HTMLURL,
		CloneURL:      r.CloneURL,
		Topics:        r.Topics,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type githubContent struct {
	Type        string `json:"type"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

type githubBranch struct {
	Name string `json:"name"`
}

type githubPull struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Stats struct {
		Total int `json:"total"`
	} `json:"stats"`
}

func (c githubCommit) commit() crawler.Commit {
	out := crawler.Commit{SHA: c.SHA, Changes: c.Stats.Total}
	if c.Author != nil {
		out.AuthorLogin = c.Author.Login
	}
	return out
}

type githubTeam struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type githubMember struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type githubSearch struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Path string `json:"path"`
	} `json:"items"`
}

// NewGitHub builds a GitHub adapter.
func NewGitHub(cfg Config, logger *zap.Logger) *GitHub {
	token := cfg.Token
	c := newClient(cfg, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "token "+token)
		}
	}, logger)
	// mercy-preview exposes repository topics.
	c.setHeader("Accept", "application/vnd.github.mercy-preview+json")
	return &GitHub{
		client:  c,
		baseURL: trimBase(cfg.URL, defaultGitHubURL),
		perPage: cfg.perPage(),
		isUser:  cfg.IsUser,
	}
}

// ListRepositories walks /orgs/{org}/repos (or /users/{org}/repos) following Link headers.
func (g *GitHub) ListRepositories(ctx context.Context, organization string) iter.Seq2[crawler.RepositorySummary, error] {
	return func(yield func(crawler.RepositorySummary, error) bool) {
		kind := "orgs"
		if g.isUser {
			kind = "users"
		}
		next := fmt.Sprintf("%s/%s/%s/repos?per_page=%d", g.baseURL, kind, url.PathEscape(organization), g.perPage)
		for next != "" {
			var page []githubRepo
			header, err := g.client.getJSON(ctx, next, &page)
			if err != nil {
				yield(crawler.RepositorySummary{}, fmt.Errorf("list repositories of %s: %w", organization, err))
				return
			}
			for _, repo := range page {
				if !yield(repo.summary(), nil) {
					return
				}
			}
			next = nextLink(header.Get("Link"))
		}
	}
}

// FetchFile reads the contents entry and follows its download_url.
func (g *GitHub) FetchFile(ctx context.Context, repo crawler.RepositorySummary, branch, path string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		g.baseURL, repo.FullName, escapePath(path), url.QueryEscape(branch))
	var content githubContent
	if _, err := g.client.getJSON(ctx, endpoint, &content); err != nil {
		return "", fmt.Errorf("fetch %s@%s:%s: %w", repo.FullName, branch, path, err)
	}
	if content.Type != "" && content.Type != "file" {
		return "", fmt.Errorf("fetch %s@%s:%s: %s is a %s: %w", repo.FullName, branch, path, path, content.Type, crawler.ErrNotFound)
	}
	if content.DownloadURL != "" {
		text, err := g.client.getText(ctx, content.DownloadURL)
		if err != nil {
			return "", fmt.Errorf("download %s@%s:%s: %w", repo.FullName, branch, path, err)
		}
		return text, nil
	}
	if content.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode %s@%s:%s: %w", repo.FullName, branch, path, err)
		}
		return string(decoded), nil
	}
	return content.Content, nil
}

// ListBranches returns every branch of the repository.
func (g *GitHub) ListBranches(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.Branch, error) {
	first := fmt.Sprintf("%s/repos/%s/branches?per_page=%d", g.baseURL, repo.FullName, g.perPage)
	raw, err := collectLinkPages[githubBranch](ctx, g.client, first)
	if err != nil {
		return nil, fmt.Errorf("list branches of %s: %w", repo.FullName, err)
	}
	branches := make([]crawler.Branch, 0, len(raw))
	for _, b := range raw {
		branches = append(branches, crawler.Branch{Name: b.Name})
	}
	return branches, nil
}

// SearchCode runs a code search scoped to the repository.
func (g *GitHub) SearchCode(ctx context.Context, repo crawler.RepositorySummary, query string) (crawler.SearchResult, error) {
	q := strings.TrimSpace(query + " repo:" + repo.FullName)
	endpoint := fmt.Sprintf("%s/search/code?q=%s&per_page=%d", g.baseURL, url.QueryEscape(q), g.perPage)
	var payload githubSearch
	if _, err := g.client.getJSON(ctx, endpoint, &payload); err != nil {
		return crawler.SearchResult{}, fmt.Errorf("search %s: %w", repo.FullName, err)
	}
	result := crawler.SearchResult{TotalCount: payload.TotalCount, Paths: make([]string, 0, len(payload.Items))}
	for _, item := range payload.Items {
		result.Paths = append(result.Paths, item.Path)
	}
	return result, nil
}

// ListOpenPullRequests returns the open pull requests of the repository.
func (g *GitHub) ListOpenPullRequests(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.PullRequest, error) {
	first := fmt.Sprintf("%s/repos/%s/pulls?state=open&per_page=%d", g.baseURL, repo.FullName, g.perPage)
	raw, err := collectLinkPages[githubPull](ctx, g.client, first)
	if err != nil {
		return nil, fmt.Errorf("list pull requests of %s: %w", repo.FullName, err)
	}
	pulls := make([]crawler.PullRequest, 0, len(raw))
	for _, p := range raw {
		pulls = append(pulls, crawler.PullRequest{ID: strconv.Itoa(p.Number), Title: p.Title})
	}
	return pulls, nil
}

// ListCommits follows the commit listing of branch until limit commits are read.
func (g *GitHub) ListCommits(ctx context.Context, repo crawler.RepositorySummary, branch string, limit int) ([]crawler.Commit, error) {
	if limit <= 0 {
		return nil, nil
	}
	perPage := min(limit, g.perPage)
	next := fmt.Sprintf("%s/repos/%s/commits?sha=%s&per_page=%d", g.baseURL, repo.FullName, url.QueryEscape(branch), perPage)
	commits := make([]crawler.Commit, 0, perPage)
	for next != "" && len(commits) < limit {
		var page []githubCommit
		header, err := g.client.getJSON(ctx, next, &page)
		if err != nil {
			return nil, fmt.Errorf("list commits of %s@%s: %w", repo.FullName, branch, err)
		}
		for _, c := range page {
			if len(commits) == limit {
				break
			}
			commits = append(commits, c.commit())
		}
		next = nextLink(header.Get("Link"))
	}
	return commits, nil
}

// FetchCommit reads one commit with its stats.
func (g *GitHub) FetchCommit(ctx context.Context, repo crawler.RepositorySummary, sha string) (crawler.Commit, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/commits/%s", g.baseURL, repo.FullName, url.PathEscape(sha))
	var raw githubCommit
	if _, err := g.client.getJSON(ctx, endpoint, &raw); err != nil {
		return crawler.Commit{}, fmt.Errorf("fetch commit %s of %s: %w", sha, repo.FullName, err)
	}
	return raw.commit(), nil
}

// ListTeams returns every team of the organization.
func (g *GitHub) ListTeams(ctx context.Context, organization string) ([]crawler.Team, error) {
	first := fmt.Sprintf("%s/orgs/%s/teams?per_page=%d", g.baseURL, url.PathEscape(organization), g.perPage)
	raw, err := collectLinkPages[githubTeam](ctx, g.client, first)
	if err != nil {
		return nil, fmt.Errorf("list teams of %s: %w", organization, err)
	}
	teams := make([]crawler.Team, 0, len(raw))
	for _, t := range raw {
		teams = append(teams, crawler.Team{ID: strconv.FormatInt(t.ID, 10), Slug: t.Slug, Name: t.Name})
	}
	return teams, nil
}

// ListTeamMembers returns the members of team. Teams without a slug go
// through the legacy id based endpoint.
func (g *GitHub) ListTeamMembers(ctx context.Context, organization string, team crawler.Team) ([]crawler.TeamMember, error) {
	first := fmt.Sprintf("%s/orgs/%s/teams/%s/members?per_page=%d",
		g.baseURL, url.PathEscape(organization), url.PathEscape(team.Slug), g.perPage)
	if team.Slug == "" {
		first = fmt.Sprintf("%s/teams/%s/members?per_page=%d", g.baseURL, url.PathEscape(team.ID), g.perPage)
	}
	raw, err := collectLinkPages[githubMember](ctx, g.client, first)
	if err != nil {
		return nil, fmt.Errorf("list members of team %s: %w", team.Name, err)
	}
	members := make([]crawler.TeamMember, 0, len(raw))
	for _, m := range raw {
		members = append(members, crawler.TeamMember{ID: strconv.FormatInt(m.ID, 10), Login: m.Login})
	}
	return members, nil
}
