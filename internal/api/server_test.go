package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/storage/memory"
)

func TestServer_StartRun_Accepted(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil)}
	server := newTestServer(t, runner, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"run_id":"adhoc-7"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
	assert.Equal(t, "/v1/runs/run-1", rec.Header().Get("Location"))
	require.Len(t, runner.started, 1)
	assert.Equal(t, "adhoc-7", runner.started[0].RunID)
	assert.Equal(t, "acme", runner.started[0].Organization)
}

func TestServer_StartRun_EmptyBodyUsesConfiguredSettings(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil)}
	server := newTestServer(t, runner, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, runner.started, 1)
	assert.Equal(t, "nightly", runner.started[0].RunID)
}

func TestServer_StartRun_Conflict(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil), err: crawler.ErrRunInProgress}
	server := newTestServer(t, runner, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_StartRun_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{runs: memory.NewRunStore(nil)}, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartRun_Failure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil), err: errors.New("unknown parser method")}
	server := newTestServer(t, runner, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown parser method")
}

func TestServer_GetAndListRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil)}
	server := newTestServer(t, runner, "")
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Run crawler.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-2", got.Run.ID)
	assert.Equal(t, crawler.RunStatusQueued, got.Run.Status)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []crawler.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 2)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{runs: memory.NewRunStore(nil)}, "secret")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "health endpoints stay open")
}

func TestServer_ReadyzReportsRunning(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runs: memory.NewRunStore(nil), running: true}
	server := newTestServer(t, runner, "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"crawl_running":true`)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{runs: memory.NewRunStore(nil)}, "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{runs: memory.NewRunStore(nil)}, "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{})
	require.Error(t, err)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeRunner struct {
	mu      sync.Mutex
	runs    *memory.RunStore
	err     error
	running bool
	started []crawler.CrawlSettings
}

func (f *fakeRunner) Start(ctx context.Context, settings crawler.CrawlSettings) (crawler.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return crawler.Run{}, f.err
	}
	f.started = append(f.started, settings)
	run := crawler.Run{
		ID:           fmt.Sprintf("run-%d", len(f.started)),
		CrawlerRunID: settings.EffectiveRunID(),
		Organization: settings.Organization,
		Status:       crawler.RunStatusQueued,
		Submitted:    time.Unix(int64(100+len(f.started)), 0).UTC(),
	}
	if err := f.runs.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, err
	}
	return run, nil
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(t *testing.T, runner *fakeRunner, apiKey string) *Server {
	t.Helper()
	server, err := NewServer(Options{
		Runner: runner,
		Runs:   runner.runs,
		Settings: func() crawler.CrawlSettings {
			return crawler.CrawlSettings{Organization: "acme", RunID: "nightly"}
		},
		APIKey:         apiKey,
		MetricsEnabled: true,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	return server
}
