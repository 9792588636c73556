package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/config"
	"github.com/JakeFAU/github-crawler/internal/crawler"
)

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/orgs/acme/repos" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "name": "one", "full_name": "acme/one", "default_branch": "main"},
				{"id": 2, "name": "two", "full_name": "acme/two", "default_branch": "main"},
			})
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, hostURL, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
logging:
  level: error
host:
  type: github
  url: %s
  organization: acme
crawler:
  concurrency: 2
%s`, hostURL, extra)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "https://github.example.com/api/v3", `
files_to_parse:
  - name: pom.xml
    indicators:
      - name: spring_boot
        method: findDependencyVersionInXml
        params:
          artifactId: spring-boot-starter-parent
outputs:
  console:
    enabled: true
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
	assert.Contains(t, out, "organization: acme")
	assert.Contains(t, out, "files:        1")
	assert.Contains(t, out, "sinks:        console")
}

func TestValidateCommand_UnknownParserMethod(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "", `
files_to_parse:
  - name: pom.xml
    indicators:
      - name: v
        method: noSuchMethod
`)
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestCrawlCommand_WritesOutputs(t *testing.T) {
	t.Parallel()

	srv := fakeGitHub(t)
	dir := t.TempDir()
	path := writeConfig(t, srv.URL, fmt.Sprintf(`
outputs:
  csv:
    enabled: true
    path: %s
`, filepath.Join(dir, "report.csv")))

	out, err := execute(t, "crawl", "--progress", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "enumerated=2 emitted=2")

	report, err := os.ReadFile(filepath.Join(dir, "report.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "acme/one")
}

func TestCrawlCommand_HostFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := execute(t, "crawl", "--config", writeConfig(t, srv.URL, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl acme")
}

func TestCommandsRequireLoadableConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestProgressBarTracksRepositories(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	bar := newProgressBar(&buf)
	bar.RepositoryEnumerated(crawler.RepositorySummary{FullName: "acme/one"})
	bar.RepositoryEnumerated(crawler.RepositorySummary{FullName: "acme/two"})
	bar.RepositoryCompleted(crawler.RepositorySummary{FullName: "acme/one"}, "emitted")
	bar.finish()

	assert.Equal(t, int64(2), bar.bar.Total())
	assert.Equal(t, int64(1), bar.bar.Current())
	assert.Contains(t, buf.String(), "repositories")

	var nilBar *progressBar
	nilBar.finish()
}

func TestServe_HealthAndShutdown(t *testing.T) {
	t.Parallel()

	srv := fakeGitHub(t)
	cfg := config.Config{
		Host:    config.HostConfig{Type: "github", URL: srv.URL, Organization: "acme", PerPage: 100, TimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{Concurrency: 1},
		Server:  config.ServerConfig{Port: 8080, APIKey: "secret"},
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, &runtime{cfg: cfg, logger: zap.NewNop()}, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/v1/runs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
