package remote

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

const (
	defaultAzureURL       = "https://dev.azure.com/"
	defaultAzureSearchURL = "https://almsearch.dev.azure.com/"
	azureAPIVersion       = "6.0"
	azureSearchAPIVersion = "6.0-preview.1"
	azureHeadsPrefix      = "refs/heads/"
)

// AzureDevOps talks to Azure DevOps Services. The organization has the form "org#project".
type AzureDevOps struct {
	client    *client
	baseURL   string
	searchURL string
	top       int
}

type azureList[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

type azureRepo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	WebURL        string `json:"webUrl"`
	RemoteURL     string `json:"remoteUrl"`
}

type azureRef struct {
	Name string `json:"name"`
}

type azurePull struct {
	PullRequestID int    `json:"pullRequestId"`
	Title         string `json:"title"`
}

type azureSearchRequest struct {
	SearchText string              `json:"searchText"`
	Skip       int                 `json:"$skip"`
	Top        int                 `json:"$top"`
	Filters    map[string][]string `json:"filters"`
}

type azureSearchResponse struct {
	Count   int `json:"count"`
	Results []struct {
		Path string `json:"path"`
	} `json:"results"`
}

// NewAzureDevOps builds an Azure DevOps adapter authenticating with a personal access token.
func NewAzureDevOps(cfg Config, logger *zap.Logger) *AzureDevOps {
	token := cfg.Token
	c := newClient(cfg, func(req *http.Request) {
		if token != "" {
			req.SetBasicAuth("", token)
		}
	}, logger)
	return &AzureDevOps{
		client:    c,
		baseURL:   trimBase(cfg.URL, defaultAzureURL) + "/",
		searchURL: trimBase(cfg.SearchURL, defaultAzureSearchURL) + "/",
		top:       cfg.perPage(),
	}
}

// SplitAzureOrganization splits "org#project" into its parts.
func SplitAzureOrganization(organization string) (string, string, error) {
	org, project, ok := strings.Cut(organization, "#")
	if !ok || org == "" || project == "" {
		return "", "", fmt.Errorf("azure organization %q must have the form org#project", organization)
	}
	return org, project, nil
}

func (a *AzureDevOps) repoURL(repo crawler.RepositorySummary) string {
	return fmt.Sprintf("%s%s/_apis/git/repositories/%s", a.baseURL, repo.Owner, url.PathEscape(repo.ID))
}

func shortBranch(name string) string {
	return strings.TrimPrefix(name, azureHeadsPrefix)
}

// ListRepositories reads the project's repositories. The API returns them in one page.
func (a *AzureDevOps) ListRepositories(ctx context.Context, organization string) iter.Seq2[crawler.RepositorySummary, error] {
	return func(yield func(crawler.RepositorySummary, error) bool) {
		org, project, err := SplitAzureOrganization(organization)
		if err != nil {
			yield(crawler.RepositorySummary{}, err)
			return
		}
		owner := url.PathEscape(org) + "/" + url.PathEscape(project)
		endpoint := fmt.Sprintf("%s%s/_apis/git/repositories?api-version=%s", a.baseURL, owner, azureAPIVersion)
		var list azureList[azureRepo]
		if _, err := a.client.getJSON(ctx, endpoint, &list); err != nil {
			yield(crawler.RepositorySummary{}, fmt.Errorf("list repositories of %s: %w", organization, err))
			return
		}
		for _, r := range list.Value {
			summary := crawler.RepositorySummary{
				ID:            r.ID,
				Name:          r.Name,
				FullName:      org + "/" + project + "/" + r.Name,
				Owner:         owner,
				DefaultBranch: shortBranch(r.DefaultBranch),
				URL:           r.WebURL,
				CloneURL:      r.RemoteURL,
			}
			if !yield(summary, nil) {
				return
			}
		}
	}
}

// FetchFile reads one item as text at the given branch.
func (a *AzureDevOps) FetchFile(ctx context.Context, repo crawler.RepositorySummary, branch, path string) (string, error) {
	query := url.Values{}
	query.Set("path", "/"+strings.TrimPrefix(path, "/"))
	query.Set("versionDescriptor.versionType", "branch")
	query.Set("versionDescriptor.version", shortBranch(branch))
	query.Set("$format", "text")
	query.Set("api-version", azureAPIVersion)
	text, err := a.client.getText(ctx, a.repoURL(repo)+"/items?"+query.Encode())
	if err != nil {
		return "", fmt.Errorf("fetch %s@%s:%s: %w", repo.FullName, branch, path, err)
	}
	return text, nil
}

// ListBranches reads refs under heads/.
func (a *AzureDevOps) ListBranches(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.Branch, error) {
	endpoint := fmt.Sprintf("%s/refs?filter=heads/&api-version=%s", a.repoURL(repo), azureAPIVersion)
	var list azureList[azureRef]
	if _, err := a.client.getJSON(ctx, endpoint, &list); err != nil {
		return nil, fmt.Errorf("list branches of %s: %w", repo.FullName, err)
	}
	branches := make([]crawler.Branch, 0, len(list.Value))
	for _, ref := range list.Value {
		branches = append(branches, crawler.Branch{Name: shortBranch(ref.Name)})
	}
	return branches, nil
}

// SearchCode queries the code search service filtered to one repository.
func (a *AzureDevOps) SearchCode(ctx context.Context, repo crawler.RepositorySummary, query string) (crawler.SearchResult, error) {
	_, project, _ := strings.Cut(repo.Owner, "/")
	projectName, err := url.PathUnescape(project)
	if err != nil {
		projectName = project
	}
	body := azureSearchRequest{
		SearchText: query,
		Top:        a.top,
		Filters: map[string][]string{
			"Repository": {repo.Name},
			"Project":    {projectName},
		},
	}
	endpoint := fmt.Sprintf("%s%s/_apis/search/codesearchresults?api-version=%s", a.searchURL, repo.Owner, azureSearchAPIVersion)
	var payload azureSearchResponse
	if _, err := a.client.postJSON(ctx, endpoint, body, &payload); err != nil {
		return crawler.SearchResult{}, fmt.Errorf("search %s: %w", repo.FullName, err)
	}
	result := crawler.SearchResult{TotalCount: payload.Count, Paths: make([]string, 0, len(payload.Results))}
	for _, r := range payload.Results {
		result.Paths = append(result.Paths, strings.TrimPrefix(r.Path, "/"))
	}
	return result, nil
}

// ListOpenPullRequests returns active pull requests.
func (a *AzureDevOps) ListOpenPullRequests(ctx context.Context, repo crawler.RepositorySummary) ([]crawler.PullRequest, error) {
	endpoint := fmt.Sprintf("%s/pullrequests?searchCriteria.status=active&api-version=%s", a.repoURL(repo), azureAPIVersion)
	var list azureList[azurePull]
	if _, err := a.client.getJSON(ctx, endpoint, &list); err != nil {
		return nil, fmt.Errorf("list pull requests of %s: %w", repo.FullName, err)
	}
	pulls := make([]crawler.PullRequest, 0, len(list.Value))
	for _, p := range list.Value {
		pulls = append(pulls, crawler.PullRequest{ID: strconv.Itoa(p.PullRequestID), Title: p.Title})
	}
	return pulls, nil
}
