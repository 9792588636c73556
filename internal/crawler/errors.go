package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks an absent optional resource (file, overlay, branch artifact).
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrRunInProgress is returned when a crawl is requested while one is running.
	ErrRunInProgress = errors.New("crawl already in progress")
)

// HTTPStatusError is a non-2xx answer from a remote host.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Is lets a 404 match ErrNotFound.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err marks an absent resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
