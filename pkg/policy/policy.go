// Package policy decides whether a URL may be fetched according to the
// robots.txt of its origin.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/pkg/logging"
	"github.com/xhad/brief/pkg/metrics"
	"go.uber.org/zap"
)

var (
	// ErrDisallowed is returned by callers that turn a negative decision into an error.
	ErrDisallowed = errors.New("fetching disallowed by crawling policy")
	ErrInvalidURL = errors.New("invalid url")
)

type Config struct {
	UserAgent string
	// FailOpen allows fetching when robots.txt cannot be retrieved or parsed.
	// The default is to refuse.
	FailOpen bool
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Gate evaluates URLs against robots.txt. Parsed policies are cached per
// origin for the lifetime of the Gate.
type Gate struct {
	config Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*entry
}

type entry struct {
	data *robotstxt.RobotsData
	err  error
}

func New(config Config, client *http.Client) *Gate {
	if config.UserAgent == "" {
		config.UserAgent = "BriefBot"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Gate{
		config: config,
		client: client,
		logger: logging.OrNop(config.Logger),
		cache:  make(map[string]*entry),
	}
}

// Evaluate reports whether the configured agent may fetch rawURL. An error is
// returned only for URLs that cannot be evaluated at all and when ctx ends
// before the policy is known.
func (g *Gate) Evaluate(ctx context.Context, rawURL string) (models.PolicyDecision, error) {
	decision := models.PolicyDecision{
		URL:       rawURL,
		Agent:     g.config.UserAgent,
		CheckedAt: time.Now(),
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return decision, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	e, err := g.lookup(ctx, u)
	if err != nil {
		return decision, err
	}
	if e.err != nil {
		decision.Allowed = g.config.FailOpen
		if g.config.FailOpen {
			decision.Reason = fmt.Sprintf("policy unavailable, fail-open: %v", e.err)
		} else {
			decision.Reason = fmt.Sprintf("policy unavailable, fail-closed: %v", e.err)
		}
		g.logger.Warn("crawling policy unavailable",
			zap.String("url", rawURL),
			zap.Bool("allowed", decision.Allowed),
			zap.Error(e.err))
		return decision, nil
	}

	decision.Allowed = e.data.TestAgent(requestPath(u), g.config.UserAgent)
	if decision.Allowed {
		decision.Reason = "allowed by robots.txt"
	} else {
		decision.Reason = "disallowed by robots.txt"
	}
	g.logger.Debug("crawling policy evaluated",
		zap.String("url", rawURL),
		zap.String("agent", g.config.UserAgent),
		zap.Bool("allowed", decision.Allowed))

	return decision, nil
}

// lookup returns the cached policy for the origin of u. Failures caused by
// the caller's context are returned and not cached.
func (g *Gate) lookup(ctx context.Context, u *url.URL) (*entry, error) {
	origin := u.Scheme + "://" + u.Host

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.cache[origin]; ok {
		return e, nil
	}

	data, err := g.fetch(ctx, origin)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("check policy for %s: %w", origin, ctx.Err())
	}
	e := &entry{data: data, err: err}
	g.cache[origin] = e
	return e, nil
}

func (g *Gate) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	robotsURL := origin + "/robots.txt"

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.config.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncFetch("robots", "error")
		return nil, fmt.Errorf("fetch %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	// 4xx is "no policy" and 5xx is "disallow all", per the parser.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		metrics.IncFetch("robots", "malformed")
		return nil, fmt.Errorf("parse %s: %w", robotsURL, err)
	}

	metrics.IncFetch("robots", "ok")
	return data, nil
}

func requestPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
