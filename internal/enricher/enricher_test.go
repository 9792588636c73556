package enricher

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/exclusion"
	"github.com/JakeFAU/github-crawler/internal/overlay"
	"github.com/JakeFAU/github-crawler/internal/parser"
	"github.com/JakeFAU/github-crawler/internal/task"
)

type fakeHost struct {
	mu          sync.Mutex
	files       map[string]string // branch + ":" + path
	fileErrs    map[string]error
	branches    []crawler.Branch
	branchesErr error
	search      crawler.SearchResult
	fetched     []string
}

func (f *fakeHost) ListRepositories(context.Context, string) iter.Seq2[crawler.RepositorySummary, error] {
	return func(func(crawler.RepositorySummary, error) bool) {}
}

func (f *fakeHost) FetchFile(_ context.Context, _ crawler.RepositorySummary, branch, path string) (string, error) {
	key := branch + ":" + path
	f.mu.Lock()
	f.fetched = append(f.fetched, key)
	f.mu.Unlock()
	if err, ok := f.fileErrs[key]; ok {
		return "", err
	}
	if content, ok := f.files[key]; ok {
		return content, nil
	}
	return "", crawler.ErrNotFound
}

func (f *fakeHost) ListBranches(context.Context, crawler.RepositorySummary) ([]crawler.Branch, error) {
	return f.branches, f.branchesErr
}

func (f *fakeHost) SearchCode(context.Context, crawler.RepositorySummary, string) (crawler.SearchResult, error) {
	return f.search, nil
}

func (f *fakeHost) ListOpenPullRequests(context.Context, crawler.RepositorySummary) ([]crawler.PullRequest, error) {
	return nil, nil
}

type panickyParser struct{}

func (panickyParser) Method() string { return "explode" }

func (panickyParser) Parse(string, string, crawler.IndicatorDefinition) map[string]string {
	panic("boom")
}

type failingTask struct{}

func (failingTask) Name() string { return "broken" }

func (failingTask) Run(context.Context, crawler.RepositorySummary, crawler.Branch) (map[string]any, error) {
	return nil, errors.New("nope")
}

var summary = crawler.RepositorySummary{
	ID:            "1",
	Name:          "svc",
	FullName:      "acme/svc",
	DefaultBranch: "main",
	URL:           "https://example.com/acme/svc",
	Topics:        []string{"java"},
}

const pom = `<project><dependencies><dependency><artifactId>spring-boot</artifactId><version>3.2.0</version></dependency></dependencies></project>`

func baseSettings() crawler.CrawlSettings {
	return crawler.CrawlSettings{
		Organization: "acme",
		Groups:       []string{"platform"},
		Files: []crawler.FileIndicators{
			{
				File: crawler.FileToParse{Name: "pom.xml"},
				Indicators: []crawler.IndicatorDefinition{
					{Name: "springBootVersion", Method: parser.MethodXMLDependencyVersion, Params: map[string]string{"artifactId": "spring-boot"}},
				},
			},
			{
				File: crawler.FileToParse{Name: "Dockerfile"},
				Indicators: []crawler.IndicatorDefinition{
					{Name: "dockerImage", Method: parser.MethodRegexpCapture, Params: map[string]string{"pattern": `FROM (\S+)`}},
				},
			},
		},
	}
}

func newEnricher(t *testing.T, host crawler.RemoteHost, settings crawler.CrawlSettings, tasks []crawler.RepoTask) *Enricher {
	t.Helper()
	matcher, err := exclusion.New(settings.ExcludePatterns, settings.IncludePatterns)
	require.NoError(t, err)
	e, err := New(Options{
		Host:     host,
		Parsers:  parser.Default(zap.NewNop()),
		Settings: settings,
		Matcher:  matcher,
		Tasks:    tasks,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return e
}

func TestEnrich_DefaultBranchIndicators(t *testing.T) {
	t.Parallel()

	host := &fakeHost{files: map[string]string{
		"main:pom.xml":    pom,
		"main:Dockerfile": "FROM registry/base:17\n",
	}}
	repo, err := newEnricher(t, host, baseSettings(), nil).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.Equal(t, "svc", repo.Name)
	assert.Equal(t, crawler.NoRunIDSentinel, repo.CrawlerRunID)
	assert.Equal(t, []string{"platform"}, repo.Groups)
	assert.Equal(t, []string{"java"}, repo.Topics)
	assert.Empty(t, repo.Tags)
	assert.False(t, repo.Excluded)
	assert.Equal(t, map[string]map[string]string{
		"main": {"springBootVersion": "3.2.0", "dockerImage": "registry/base:17"},
	}, repo.Indicators)
	assert.Empty(t, repo.MiscTasksResults)
}

func TestEnrich_OverlayTagsAndRedirect(t *testing.T) {
	t.Parallel()

	host := &fakeHost{files: map[string]string{
		"main:.githubCrawler": "tags:\n  - team-a\nfilesToParse:\n  - name: pom.xml\n    redirectTo: backend/pom.xml\n",
		"main:backend/pom.xml": pom,
	}}
	settings := baseSettings()
	settings.RunID = "run-42"
	repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.Equal(t, []string{"team-a"}, repo.Tags)
	assert.Equal(t, "run-42", repo.CrawlerRunID)
	assert.Equal(t, "3.2.0", repo.Indicators["main"]["springBootVersion"])
	assert.NotContains(t, host.fetched, "main:pom.xml")
}

func TestEnrich_ExcludedByOverlay(t *testing.T) {
	t.Parallel()

	host := &fakeHost{files: map[string]string{
		"main:.githubCrawler": "excluded: true\n",
		"main:pom.xml":        pom,
	}}
	repo, err := newEnricher(t, host, baseSettings(), nil).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.True(t, repo.Excluded)
	assert.Equal(t, exclusion.ReasonRepoConfig, repo.ExclusionReason)
	assert.Empty(t, repo.Indicators)
	assert.Equal(t, []string{"main:" + overlay.DefaultPath}, host.fetched)
}

func TestEnrich_ServerSideExclusionWins(t *testing.T) {
	t.Parallel()

	host := &fakeHost{files: map[string]string{"main:.githubCrawler": "excluded: true\n"}}
	settings := baseSettings()
	settings.ExcludePatterns = []string{"sv.*"}
	repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.True(t, repo.Excluded)
	assert.Equal(t, exclusion.ReasonServerConfig, repo.ExclusionReason)
}

func TestEnrich_MalformedOverlayMarksSkipped(t *testing.T) {
	t.Parallel()

	host := &fakeHost{files: map[string]string{
		"main:.githubCrawler": "tags: [unclosed\n",
		"main:pom.xml":        pom,
	}}
	repo, err := newEnricher(t, host, baseSettings(), nil).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.True(t, repo.Skipped)
	assert.NotEmpty(t, repo.SkipReason)
	assert.False(t, repo.Excluded)
	assert.Equal(t, "3.2.0", repo.Indicators["main"]["springBootVersion"])
}

func TestEnrich_OverlayTransportErrorFailsRepository(t *testing.T) {
	t.Parallel()

	host := &fakeHost{fileErrs: map[string]error{
		"main:.githubCrawler": &crawler.HTTPStatusError{StatusCode: 500, Method: "GET", URL: "x"},
	}}
	_, err := newEnricher(t, host, baseSettings(), nil).Enrich(context.Background(), summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/svc")
}

func TestEnrich_AllBranchesWithTasks(t *testing.T) {
	t.Parallel()

	host := &fakeHost{
		branches: []crawler.Branch{{Name: "main"}, {Name: "develop"}, {Name: "main"}},
		files: map[string]string{
			"main:pom.xml":    pom,
			"develop:pom.xml": `<project><dependencies><dependency><artifactId>spring-boot</artifactId><version>3.3.0</version></dependency></dependencies></project>`,
		},
	}
	settings := baseSettings()
	settings.CrawlAllBranches = true

	tasks, err := task.Default(host).Build([]crawler.RepoTaskDefinition{{Name: "nbBranches", Type: task.TypeNbBranchesOnRepo}})
	require.NoError(t, err)
	tasks = append(tasks, failingTask{})

	repo, err := newEnricher(t, host, settings, tasks).Enrich(context.Background(), summary)
	require.NoError(t, err)

	assert.Len(t, repo.Indicators, 2)
	assert.Equal(t, "3.2.0", repo.Indicators["main"]["springBootVersion"])
	assert.Equal(t, "3.3.0", repo.Indicators["develop"]["springBootVersion"])
	assert.Equal(t, map[string]any{"nbBranches": 3}, repo.MiscTasksResults["main"])
	assert.Equal(t, map[string]any{"nbBranches": 3}, repo.MiscTasksResults["develop"])
}

func TestEnrich_SameFileNameWithDifferentRedirects(t *testing.T) {
	t.Parallel()

	libPom := func(version string) string {
		return `<project><dependencies><dependency><artifactId>lib</artifactId><version>` + version + `</version></dependency></dependencies></project>`
	}
	host := &fakeHost{files: map[string]string{
		"main:pom.xml":     libPom("1.0"),
		"main:sub/pom.xml": libPom("2.0"),
	}}
	settings := crawler.CrawlSettings{Files: []crawler.FileIndicators{
		{
			File:       crawler.FileToParse{Name: "pom.xml"},
			Indicators: []crawler.IndicatorDefinition{{Name: "rootLib", Method: parser.MethodXMLDependencyVersion, Params: map[string]string{"artifactId": "lib"}}},
		},
		{
			File:       crawler.FileToParse{Name: "pom.xml", RedirectTo: "sub/pom.xml"},
			Indicators: []crawler.IndicatorDefinition{{Name: "subLib", Method: parser.MethodXMLDependencyVersion, Params: map[string]string{"artifactId": "lib"}}},
		},
	}}

	repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rootLib": "1.0", "subLib": "2.0"}, repo.Indicators["main"])
}

func TestEnrich_BranchFanOut(t *testing.T) {
	t.Parallel()

	branches := []crawler.Branch{{Name: "main"}, {Name: "b1"}, {Name: "b2"}, {Name: "b3"}, {Name: "b4"}}
	tests := []struct {
		name        string
		allBranches bool
		want        int
	}{
		{name: "all branches", allBranches: true, want: 5},
		{name: "default branch only", allBranches: false, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			files := make(map[string]string, len(branches))
			for _, b := range branches {
				files[b.Name+":pom.xml"] = pom
			}
			host := &fakeHost{branches: branches, files: files}
			settings := baseSettings()
			settings.CrawlAllBranches = tt.allBranches

			repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
			require.NoError(t, err)
			require.Len(t, repo.Indicators, tt.want)
			for branch, indicators := range repo.Indicators {
				assert.Equal(t, map[string]string{"springBootVersion": "3.2.0"}, indicators, branch)
			}
			if !tt.allBranches {
				assert.Contains(t, repo.Indicators, "main")
			}
		})
	}
}

func TestEnrich_NoDefaultBranch(t *testing.T) {
	t.Parallel()

	empty := summary
	empty.DefaultBranch = ""
	host := &fakeHost{
		branches: []crawler.Branch{{Name: "main"}},
		files:    map[string]string{"main:pom.xml": pom},
	}
	settings := baseSettings()
	settings.CrawlAllBranches = true

	repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), empty)
	require.NoError(t, err)
	assert.False(t, repo.Excluded)
	assert.Empty(t, repo.Indicators)
	assert.Empty(t, host.fetched)

	settings.ExcludePatterns = []string{"svc"}
	repo, err = newEnricher(t, host, settings, nil).Enrich(context.Background(), empty)
	require.NoError(t, err)
	assert.True(t, repo.Excluded)
	assert.Equal(t, exclusion.ReasonServerConfig, repo.ExclusionReason)
}

func TestEnrich_BranchListingFailureFailsRepository(t *testing.T) {
	t.Parallel()

	host := &fakeHost{branchesErr: errors.New("host down")}
	settings := baseSettings()
	settings.CrawlAllBranches = true
	_, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
	require.Error(t, err)
}

func TestEnrich_FileErrorsAndPanicsAreIsolated(t *testing.T) {
	t.Parallel()

	host := &fakeHost{
		files: map[string]string{"main:Dockerfile": "FROM img:1\n", "main:pom.xml": pom},
		fileErrs: map[string]error{
			"main:build.gradle": errors.New("connection reset"),
		},
	}
	settings := baseSettings()
	settings.Files = append(settings.Files,
		crawler.FileIndicators{
			File:       crawler.FileToParse{Name: "build.gradle"},
			Indicators: []crawler.IndicatorDefinition{{Name: "gradle", Method: parser.MethodRegexpCapture, Params: map[string]string{"pattern": "(x)"}}},
		},
	)
	settings.Files[0].Indicators = append(settings.Files[0].Indicators,
		crawler.IndicatorDefinition{Name: "kaboom", Method: "explode"},
		crawler.IndicatorDefinition{Name: "unknown", Method: "noSuchMethod"},
	)

	reg := parser.Default(zap.NewNop())
	require.NoError(t, reg.Register(panickyParser{}))
	e, err := New(Options{Host: host, Parsers: reg, Settings: settings, Logger: zap.NewNop()})
	require.NoError(t, err)

	repo, err := e.Enrich(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"springBootVersion": "3.2.0", "dockerImage": "img:1"}, repo.Indicators["main"])
}

func TestEnrich_SearchesRunOncePerRepository(t *testing.T) {
	t.Parallel()

	host := &fakeHost{search: crawler.SearchResult{TotalCount: 4, Paths: []string{"a", "b"}}}
	settings := baseSettings()
	settings.CrawlAllBranches = true
	host.branches = []crawler.Branch{{Name: "main"}, {Name: "dev"}}
	settings.Searches = []crawler.SearchDefinition{
		{Name: "jenkinsCount", Query: "filename:Jenkinsfile", Method: task.SearchMethodCount},
		{Name: "jenkinsPaths", Query: "filename:Jenkinsfile", Method: task.SearchMethodPath},
		{Name: "bad", Query: "x", Method: "unknown"},
	}
	repo, err := newEnricher(t, host, settings, nil).Enrich(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"jenkinsCount": 4, "jenkinsPaths": []string{"a", "b"}}, repo.SearchResults)
	assert.Len(t, repo.Indicators, 2)
	assert.Empty(t, repo.Indicators["dev"])
}

func TestEnrich_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEnricher(t, &fakeHost{}, baseSettings(), nil).Enrich(ctx, summary)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresHostAndParsers(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Parsers: parser.Default(zap.NewNop())})
	require.Error(t, err)
	_, err = New(Options{Host: &fakeHost{}})
	require.Error(t, err)
}
