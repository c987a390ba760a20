package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/pkg/logging"
	"github.com/xhad/brief/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindHTTPStatus       ErrorKind = "http_status"
)

// NetworkError describes a failed page fetch.
type NetworkError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: received status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type ScraperConfig struct {
	UserAgent    string
	Timeout      time.Duration
	RateLimit    float64 // requests per second
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Fetcher performs single, non-retried GETs.
type Fetcher struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWithConfig(config ScraperConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 5 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "BriefBot"
	}

	return &Fetcher{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logging.OrNop(config.Logger),
	}
}

func New() *Fetcher {
	return NewWithConfig(ScraperConfig{})
}

// Fetch retrieves the markup of rawURL. Failures are reported, never retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.Document, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &NetworkError{Kind: KindConnectionFailed, URL: rawURL, Err: err}
	}

	// Apply rate limiting
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Kind: KindTimeout, URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{Kind: KindConnectionFailed, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		netErr := classify(rawURL, err)
		metrics.IncFetch("page", string(netErr.Kind))
		f.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, netErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncFetch("page", string(KindHTTPStatus))
		return nil, &NetworkError{Kind: KindHTTPStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		netErr := classify(rawURL, err)
		metrics.IncFetch("page", string(netErr.Kind))
		return nil, netErr
	}

	metrics.IncFetch("page", "ok")
	f.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return &models.Document{
		SourceURL:   rawURL,
		RawMarkup:   string(body),
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}, nil
}

func classify(rawURL string, err error) *NetworkError {
	kind := KindConnectionFailed
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &NetworkError{Kind: kind, URL: rawURL, Err: err}
}
