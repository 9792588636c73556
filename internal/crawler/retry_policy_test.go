package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExponentialRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicyWith(2, 10*time.Millisecond, 40*time.Millisecond)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 0, false},
		{"too many requests", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, 0, true},
		{"wrapped bad gateway", fmt.Errorf("page: %w", &HTTPStatusError{StatusCode: http.StatusBadGateway}), 1, true},
		{"not found", &HTTPStatusError{StatusCode: http.StatusNotFound}, 0, false},
		{"unauthorized", &HTTPStatusError{StatusCode: http.StatusUnauthorized}, 0, false},
		{"attempts exhausted", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, 2, false},
		{"context canceled", context.Canceled, 0, false},
		{"network timeout", timeoutErr{}, 0, true},
		{"plain error", errors.New("decode failure"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestExponentialRetryPolicy_BackoffBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicyWith(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestHTTPStatusError_NotFoundMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("fetch: %w", &HTTPStatusError{StatusCode: http.StatusNotFound, Method: "GET", URL: "http://x"})
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(&HTTPStatusError{StatusCode: http.StatusInternalServerError}))
}

func TestCrawlSettings_EffectiveRunID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NoRunIDSentinel, CrawlSettings{}.EffectiveRunID())
	assert.Equal(t, NoRunIDSentinel, CrawlSettings{RunID: "  "}.EffectiveRunID())
	assert.Equal(t, "run-42", CrawlSettings{RunID: "run-42"}.EffectiveRunID())
}

func TestIndicatorDefinition_ParamIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	def := IndicatorDefinition{Params: map[string]string{"artifactid": "spring-core"}}
	v, ok := def.Param("artifactId")
	assert.True(t, ok)
	assert.Equal(t, "spring-core", v)

	_, ok = def.Param("pattern")
	assert.False(t, ok)
}
