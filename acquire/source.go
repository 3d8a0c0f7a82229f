package acquire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"agripredict/series"
)

// maxBodyBytes caps how much of a response we are willing to parse.
const maxBodyBytes = 64 << 20

// Source fetches the full raw series from wherever it lives.
type Source interface {
	Fetch(ctx context.Context) (series.Series, error)
}

// FetchError is a transient failure of the remote source: network error,
// unexpected status, or a body that does not parse as a series.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPSource downloads a CSV series over HTTP(S).
type HTTPSource struct {
	url        string
	client     *http.Client
	attempts   int
	retryDelay time.Duration
	maxBody    int64
}

// NewHTTPSource creates a source for url. attempts < 1 is treated as 1.
func NewHTTPSource(url string, timeout time.Duration, attempts int, retryDelay time.Duration) *HTTPSource {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		attempts:   attempts,
		retryDelay: retryDelay,
		maxBody:    maxBodyBytes,
	}
}

// URL returns the configured feed address.
func (s *HTTPSource) URL() string {
	return s.url
}

// Fetch downloads and parses the series, retrying with a fixed delay.
func (s *HTTPSource) Fetch(ctx context.Context) (series.Series, error) {
	var lastErr error

	for attempt := 1; attempt <= s.attempts; attempt++ {
		data, err := s.fetchOnce(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, &FetchError{URL: s.url, Attempts: attempt, Err: ctx.Err()}
		}

		// Wait before retry
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return nil, &FetchError{URL: s.url, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(s.retryDelay):
			}
		}
	}

	return nil, &FetchError{URL: s.url, Attempts: s.attempts, Err: lastErr}
}

func (s *HTTPSource) fetchOnce(ctx context.Context) (series.Series, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")
	req.Header.Set("User-Agent", "agripredict-retrainer/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	// One byte past the cap tells an oversized body from one that fits exactly.
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > s.maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", s.maxBody)
	}

	data, err := series.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return data, nil
}
