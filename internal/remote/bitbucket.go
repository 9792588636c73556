package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/logging"
)

const bitbucketFallbackBranch = "master"

// Bitbucket talks to the Bitbucket Server REST API 1.0.
type Bitbucket struct {
	client    *client
	baseURL   string
	searchURL string
	limit     int
	logger    *zap.Logger
}

type bitbucketPage[T any] struct {
	Values        []T  `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
}

type bitbucketRepo struct {
	ID      int    `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
	Links struct {
		Self []struct {
			Href string `json:"href"`
		} `json:"self"`
		Clone []struct {
			Href string `json:"href"`
			Name string `json:"name"`
		} `json:"clone"`
	} `json:"links"`
}

type bitbucketBranch struct {
	DisplayID string `json:"displayId"`
}

type bitbucketPull struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type bitbucketSearchRequest struct {
	Query    string                  `json:"query"`
	Entities bitbucketSearchEntities `json:"entities"`
}

type bitbucketSearchEntities struct {
	Code bitbucketSearchLimits `json:"code"`
}

type bitbucketSearchLimits struct {
	Start int `json:"start"`
	Limit int `json:"limit"`
}

type bitbucketSearchResponse struct {
	Code struct {
		Count  int `json:"count"`
		Values []struct {
			File string `json:"file"`
		} `json:"values"`
	} `json:"code"`
}

// NewBitbucket builds a Bitbucket Server adapter. cfg.URL is the REST root,
// e.g. https://bitbucket.example.com/rest/api/1.0.
func NewBitbucket(cfg Config, logger *zap.Logger) *Bitbucket {
	token := cfg.Token
	c := newClient(cfg, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}, logger)
	c.setHeader("Accept", "application/json")
	base := trimBase(cfg.URL, "")
	search := strings.TrimSuffix(cfg.SearchURL, "/")
	if search == "" {
		search = strings.Replace(base, "/rest/api/1.0", "/rest/search/latest", 1)
	}
	return &Bitbucket{
		client:    c,
		baseURL:   base,
		searchURL: search,
		limit:     cfg.perPage(),
		logger:    logging.OrNop(logger).Named("bitbucket"),
	}
}

func bitbucketPages[T any](ctx context.Context, c *client, endpoint string, limit int, visit func(T) bool) error {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	start := 0
	for {
		var page bitbucketPage[T]
		pageURL := fmt.Sprintf("%s%sstart=%d&limit=%d", endpoint, sep, start, limit)
		if _, err := c.getJSON(ctx, pageURL, &page); err != nil {
			return err
		}
		for _, v := range page.Values {
			if !visit(v) {
				return nil
			}
		}
		if page.IsLastPage || page.NextPageStart <= start {
			return nil
		}
		start = page.NextPageStart
	}
}

func (b *Bitbucket) repoURL(repo crawler.RepositorySummary) string {
	return fmt.Sprintf("%s/projects/%s/repos/%s", b.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.ID))
}

// ListRepositories pages through /projects/{key}/repos.
func (b *Bitbucket) ListRepositories(ctx context.Context, organization string) iter.Seq2[crawler.RepositorySummary, error] {
	return func(yield func(crawler.RepositorySummary, error) bool) {
		endpoint := fmt.Sprintf("%s/projects/%s/repos", b.baseURL, url.PathEscape(organization))
		stopped := false
		err := bitbucketPages(ctx, b.client, endpoint, b.limit, func(r bitbucketRepo) bool {
			summary := crawler.RepositorySummary{
				ID:       r.Slug,
				Name:     r.Slug,
				FullName: r.Project.Key + "/" + r.Slug,
				Owner:    r.Project.Key,
			}
			if len(r.Links.Self) > 0 {
				summary.URL = r.Links.Self[0].Href
			}
			for _, clone := range r.Links.Clone {
				if clone.Name == "http" || summary.CloneURL == "" {
					summary.CloneURL = clone.Href
				}
			}
			branch, err := b.defaultBranch(ctx, summary)
			if err != nil {
				yield(crawler.RepositorySummary{}, err)
				stopped = true
				return false
			}
			summary.DefaultBranch = branch
			if !yield(summary, nil) {
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

// defaultBranch falls back to master when the host reports none or the lookup
// fails, but never once the context is done.
func (b *Bitbucket) defaultBranch(ctx context.Context, repo crawler.RepositorySummary) (string, error) {
	var branch bitbucketBranch
	_, err := b.client.getJSON(ctx, b.repoURL(repo)+"/branches/default", &branch)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("default branch of %s: %w", repo.FullName, ctxErr)
	}
	switch {
	case err == nil && branch.DisplayID != "":
		return branch.DisplayID, nil
	case err == nil, crawler.IsNotFound(err), errors.Is(err, io.EOF):
		b.logger.Debug("no default branch reported, using fallback",
			zap.String("repository", repo.FullName), zap.String("branch", bitbucketFallbackBranch))
	default:
		b.logger.Warn("default branch lookup failed, using fallback",
			zap.String("repository", repo.FullName), zap.Error(err))
	}
	return bitbucketFallbackBranch, nil
}

// FetchFile reads the raw file at the given branch.
func (b *Bitbucket) FetchFile(ctx context.Context, repo crawler.RepositorySummary, branch, path string) (string, error) {
	endpoint := fmt.Sprintf("%s/raw/%s?at=%s", b.repoURL(repo), escapePath(path), url.QueryEscape(branch))
	text, err := b.client.getText(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("fetch %s@%s:%s: %w", repo.FullName, branch, path, err)
	}
	return text, nil
}

// ListBranches pages through the repository branches.
func (b *Bitbucket) ListBranches(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.Branch, error) {
	var branches []crawler.Branch
	err := bitbucketPages(ctx, b.client, b.repoURL(repo)+"/branches", b.limit, func(br bitbucketBranch) bool {
		branches = append(branches, crawler.Branch{Name: br.DisplayID})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list branches of %s: %w", repo.FullName, err)
	}
	return branches, nil
}

// SearchCode queries the Bitbucket search plugin for one repository.
func (b *Bitbucket) SearchCode(ctx context.Context, repo crawler.RepositorySummary, query string) (crawler.SearchResult, error) {
	body := bitbucketSearchRequest{
		Query:    strings.TrimSpace(fmt.Sprintf("project:%s repo:%s %s", repo.Owner, repo.ID, query)),
		Entities: bitbucketSearchEntities{Code: bitbucketSearchLimits{Start: 0, Limit: b.limit}},
	}
	var payload bitbucketSearchResponse
	if _, err := b.client.postJSON(ctx, b.searchURL+"/search", body, &payload); err != nil {
		return crawler.SearchResult{}, fmt.Errorf("search %s: %w", repo.FullName, err)
	}
	result := crawler.SearchResult{TotalCount: payload.Code.Count, Paths: make([]string, 0, len(payload.Code.Values))}
	for _, v := range payload.Code.Values {
		result.Paths = append(result.Paths, v.File)
	}
	return result, nil
}

// ListOpenPullRequests pages through the open pull requests.
func (b *Bitbucket) ListOpenPullRequests(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.PullRequest, error) {
	var pulls []crawler.PullRequest
	err := bitbucketPages(ctx, b.client, b.repoURL(repo)+"/pull-requests?state=OPEN", b.limit, func(p bitbucketPull) bool {
		pulls = append(pulls, crawler.PullRequest{ID: strconv.Itoa(p.ID), Title: p.Title})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list pull requests of %s: %w", repo.FullName, err)
	}
	return pulls, nil
}
