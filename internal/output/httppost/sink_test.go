package httppost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/output"
)

func TestSinkPostsOneRequestPerRecord(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []output.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		var rec output.Record
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}})
	require.NoError(t, err)
	err = s.Output(context.Background(), crawler.Repository{
		Name: "svc", FullName: "acme/svc", DefaultBranch: "main",
		Indicators: map[string]map[string]string{"main": {"v": "1"}, "dev": {"v": "2"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, "dev", got[0].BranchName)
	assert.Equal(t, "1", got[1].Indicators["v"])
}

func TestSinkReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	err = s.Output(context.Background(), crawler.Repository{Name: "svc", DefaultBranch: "main"})
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "nope", statusErr.Body)
}
