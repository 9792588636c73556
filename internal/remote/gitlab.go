package remote

import (
	"context"
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

const defaultGitLabURL = "https://gitlab.com/api/v4"

// GitLab talks to the GitLab REST API v4. The organization is a group.
type GitLab struct {
	client  *client
	baseURL string
	perPage int
}

type gitlabGroup struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
}

type gitlabProject struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	PathWithNamespace string    `json:"path_with_namespace"`
	DefaultBranch     string    `json:"default_branch"`
	WebURL            string    `json:"web_url"`
	HTTPURLToRepo     string    `json:"http_url_to_repo"`
	Topics            []string  `json:"topics"`
	TagList           []string  `json:"tag_list"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	Namespace         struct {
		FullPath string `json:"full_path"`
	} `json:"namespace"`
}

func (p gitlabProject) summary() crawler.RepositorySummary {
	topics := p.Topics
	if len(topics) == 0 {
		topics = p.TagList
	}
	return crawler.RepositorySummary{
		ID:            strconv.FormatInt(p.ID, 10),
		Name:          p.Path,
		FullName:      p.PathWithNamespace,
		Owner:         p.Namespace.FullPath,
		DefaultBranch: p.DefaultBranch,
		URL:           p.WebURL,
		CloneURL:      p.HTTPURLToRepo,
		Topics:        topics,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.LastActivityAt,
	}
}

type gitlabBranch struct {
	Name string `json:"name"`
}

type gitlabMergeRequest struct {
	IID   int    `json:"iid"`
	Title string `json:"title"`
}

type gitlabBlob struct {
	Path string `json:"path"`
}

// NewGitLab builds a GitLab adapter.
func NewGitLab(cfg Config, logger *zap.Logger) *GitLab {
	token := cfg.Token
	c := newClient(cfg, func(req *http.Request) {
		if token != "" {
			req.Header.Set("PRIVATE-TOKEN", token)
		}
	}, logger)
	return &GitLab{
		client:  c,
		baseURL: trimBase(cfg.URL, defaultGitLabURL),
		perPage: cfg.perPage(),
	}
}

// gitlabPages walks page-indexed results until X-Next-Page is empty.
func gitlabPages[T any](ctx context.Context, c *client, endpoint string, visit func(T) bool) error {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	for page := "1"; page != ""; {
		var items []T
		header, err := c.getJSON(ctx, endpoint+sep+"page="+url.QueryEscape(page), &items)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !visit(item) {
				return nil
			}
		}
		page = strings.TrimSpace(header.Get("X-Next-Page"))
	}
	return nil
}

func (g *GitLab) resolveGroup(ctx context.Context, name string) (int64, error) {
	endpoint := fmt.Sprintf("%s/groups?search=%s&per_page=%d", g.baseURL, url.QueryEscape(name), g.perPage)
	var groups []gitlabGroup
	if _, err := g.client.getJSON(ctx, endpoint, &groups); err != nil {
		return 0, fmt.Errorf("search group %s: %w", name, err)
	}
	var matches []gitlabGroup
	for _, group := range groups {
		if group.Path == name || group.FullPath == name || group.Name == name {
			matches = append(matches, group)
		}
	}
	if len(matches) != 1 {
		return 0, fmt.Errorf("expected exactly one group named %q, found %d", name, len(matches))
	}
	return matches[0].ID, nil
}

// ListRepositories resolves the group then pages through its projects.
func (g *GitLab) ListRepositories(ctx context.Context, organization string) iter.Seq2[crawler.RepositorySummary, error] {
	return func(yield func(crawler.RepositorySummary, error) bool) {
		groupID, err := g.resolveGroup(ctx, organization)
		if err != nil {
			yield(crawler.RepositorySummary{}, fmt.Errorf("list repositories of %s: %w", organization, err))
			return
		}
		endpoint := fmt.Sprintf("%s/groups/%d/projects?per_page=%d", g.baseURL, groupID, g.perPage)
		stopped := false
		err = gitlabPages(ctx, g.client, endpoint, func(p gitlabProject) bool {
			if !yield(p.summary(), nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(crawler.RepositorySummary{}, fmt.Errorf("list repositories of %s: %w", organization, err))
		}
	}
}

func (g *GitLab) projectURL(repo crawler.RepositorySummary) string {
	return fmt.Sprintf("%s/projects/%s", g.baseURL, url.PathEscape(repo.ID))
}

// FetchFile reads the raw file through the repository files API.
func (g *GitLab) FetchFile(ctx context.Context, repo crawler.RepositorySummary, branch, path string) (string, error) {
	endpoint := fmt.Sprintf("%s/repository/files/%s/raw?ref=%s",
		g.projectURL(repo), url.PathEscape(strings.TrimPrefix(path, "/")), url.QueryEscape(branch))
	text, err := g.client.getText(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("fetch %s@%s:%s: %w", repo.FullName, branch, path, err)
	}
	return text, nil
}

// ListBranches pages through the project branches.
func (g *GitLab) ListBranches(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.Branch, error) {
	var branches []crawler.Branch
	endpoint := fmt.Sprintf("%s/repository/branches?per_page=%d", g.projectURL(repo), g.perPage)
	err := gitlabPages(ctx, g.client, endpoint, func(b gitlabBranch) bool {
		branches = append(branches, crawler.Branch{Name: b.Name})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list branches of %s: %w", repo.FullName, err)
	}
	return branches, nil
}

// SearchCode runs a blob search inside the project. Only the first page is read;
// the count comes from X-Total when the server reports it.
func (g *GitLab) SearchCode(ctx context.Context, repo crawler.RepositorySummary, query string) (crawler.SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?scope=blobs&search=%s&per_page=%d",
		g.projectURL(repo), url.QueryEscape(query), g.perPage)
	var blobs []gitlabBlob
	header, err := g.client.getJSON(ctx, endpoint, &blobs)
	if err != nil {
		return crawler.SearchResult{}, fmt.Errorf("search %s: %w", repo.FullName, err)
	}
	result := crawler.SearchResult{TotalCount: len(blobs), Paths: make([]string, 0, len(blobs))}
	if total, convErr := strconv.Atoi(header.Get("X-Total")); convErr == nil {
		result.TotalCount = total
	}
	for _, blob := range blobs {
		result.Paths = append(result.Paths, blob.Path)
	}
	return result, nil
}

// ListOpenPullRequests returns the opened merge requests.
func (g *GitLab) ListOpenPullRequests(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.PullRequest, error) {
	var pulls []crawler.PullRequest
	endpoint := fmt.Sprintf("%s/merge_requests?state=opened&per_page=%d", g.projectURL(repo), g.perPage)
	err := gitlabPages(ctx, g.client, endpoint, func(mr gitlabMergeRequest) bool {
		pulls = append(pulls, crawler.PullRequest{ID: strconv.Itoa(mr.IID), Title: mr.Title})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list merge requests of %s: %w", repo.FullName, err)
	}
	return pulls, nil
}
