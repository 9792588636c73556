package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

func newTestSink(t *testing.T, handler http.Handler) *Sink {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, Config{Bucket: "crawl-bucket", Prefix: "/records/"})
	require.NoError(t, err)
	return s
}

func TestSinkUploadsOneObjectPerBranch(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var names []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/crawl-bucket/o")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"fullName":"acme/svc"`)
		name := r.URL.Query().Get("name")
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"name":%q,"bucket":"crawl-bucket"}`, name)
	})
	s := newTestSink(t, handler)

	err := s.Output(context.Background(), crawler.Repository{
		Name: "svc", FullName: "acme/svc", DefaultBranch: "main", CrawlerRunID: "run-1",
		Indicators: map[string]map[string]string{"main": {}, "dev": {}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(context.Background()))
	assert.Equal(t, []string{"records/run-1/acme/svc/dev.json", "records/run-1/acme/svc/main.json"}, names)
}

func TestSinkUploadError(t *testing.T) {
	t.Parallel()

	s := newTestSink(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	err := s.Output(context.Background(), crawler.Repository{Name: "svc", FullName: "acme/svc", DefaultBranch: "main"})
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
