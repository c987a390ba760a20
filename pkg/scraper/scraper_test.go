package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScraperConfig(t *testing.T) {
	f := NewWithConfig(ScraperConfig{
		UserAgent: "TestBot",
		Timeout:   3 * time.Second,
		RateLimit: 1.0,
	})
	assert.Equal(t, "TestBot", f.config.UserAgent)
	assert.Equal(t, 3*time.Second, f.client.Timeout)
	assert.Equal(t, int64(5<<20), f.config.MaxBodyBytes)

	d := New()
	assert.Equal(t, 10*time.Second, d.client.Timeout)
}

func TestFetchWithMockServer(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title></head><body><p>hello</p></body></html>`))
	}))
	defer server.Close()

	f := NewWithConfig(ScraperConfig{UserAgent: "TestBot", RateLimit: 100})

	doc, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL, doc.SourceURL)
	assert.Contains(t, doc.RawMarkup, "<p>hello</p>")
	assert.Equal(t, "text/html", doc.ContentType)
	assert.False(t, doc.FetchedAt.IsZero())
	assert.Equal(t, "TestBot", gotAgent)
}

func TestFetchStatusError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewWithConfig(ScraperConfig{RateLimit: 100})
	_, err := f.Fetch(context.Background(), server.URL)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, KindHTTPStatus, netErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, 1, calls, "fetch failures are not retried")
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewWithConfig(ScraperConfig{Timeout: 50 * time.Millisecond, RateLimit: 100})
	_, err := f.Fetch(context.Background(), server.URL)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, KindTimeout, netErr.Kind)
}

func TestFetchConnectionFailed(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL
	server.Close()

	f := NewWithConfig(ScraperConfig{RateLimit: 100})
	_, err := f.Fetch(context.Background(), target)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, KindConnectionFailed, netErr.Kind)
}

func TestFetchBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer server.Close()

	f := NewWithConfig(ScraperConfig{RateLimit: 100, MaxBodyBytes: 10})
	doc, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, doc.RawMarkup, 10)
}
