package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/pkg/metrics"
	"go.uber.org/zap"
)

// Backend performs one generation attempt against a provider.
type Backend interface {
	Generate(ctx context.Context, spec ModelSpec, req models.CompletionRequest) (string, error)
}

// Client is the single entry point for generation. It resolves the model,
// applies the per-attempt timeout and retries transient failures.
type Client struct {
	registry *Registry
	backends map[string]Backend
	retry    RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Client)

// WithBackend registers or replaces the backend for a provider name.
func WithBackend(provider string, backend Backend) Option {
	return func(c *Client) {
		c.backends[provider] = backend
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithTimeout bounds each attempt, not the whole call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used by the built-in backends.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.backends["openai"] = NewOpenAIBackend(client)
		c.backends["ollama"] = NewOllamaBackend(client)
	}
}

func NewClient(registry *Registry, opts ...Option) *Client {
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Client{
		registry: registry,
		backends: map[string]Backend{
			"openai": NewOpenAIBackend(nil),
			"ollama": NewOllamaBackend(nil),
		},
		retry:   DefaultRetryPolicy(),
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req to the model it names and returns the generated text.
// Failures are reported as *GenerationError; cancellation of ctx is returned
// as the context error.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	spec, err := c.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	backend, ok := c.backends[spec.Provider]
	if !ok {
		return nil, newError(KindInvalidRequest, fmt.Errorf("no backend for provider %q", spec.Provider))
	}

	if spec.MaxOutputTokens > 0 && (req.MaxTokens <= 0 || req.MaxTokens > spec.MaxOutputTokens) {
		req.MaxTokens = spec.MaxOutputTokens
	}

	logger := c.logger.With(zap.String("model", spec.ID), zap.String("provider", spec.Provider))
	start := time.Now()
	defer metrics.ObserveGeneration(spec.ID, start)

	var text string
	attempts, err := c.retry.Do(ctx, func(attempt int) error {
		out, err := c.attempt(ctx, backend, spec, req)
		if err != nil {
			metrics.ObserveAttempt(spec.ID, outcome(err))
			return err
		}
		metrics.ObserveAttempt(spec.ID, "ok")
		text = out
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		logger.Error("generation failed", zap.Int("attempts", attempts), zap.Error(err))
		return nil, err
	}

	logger.Debug("generation complete",
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)))

	return &models.Completion{
		Text:     strings.TrimSpace(text),
		Model:    spec.ID,
		Attempts: attempts,
	}, nil
}

func (c *Client) attempt(ctx context.Context, backend Backend, spec ModelSpec, req models.CompletionRequest) (string, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	text, err := backend.Generate(attemptCtx, spec, req)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return "", &GenerationError{Kind: KindTimeout, Err: err}
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		return "", newError(KindServerError, err)
	}
	return "", err
}

func validateRequest(req models.CompletionRequest) error {
	if req.Model == "" {
		return newError(KindInvalidRequest, errors.New("model is required"))
	}
	if len(req.Messages) == 0 {
		return newError(KindInvalidRequest, errors.New("at least one message is required"))
	}
	if req.MaxTokens < 0 {
		return newError(KindInvalidRequest, errors.New("max tokens cannot be negative"))
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return newError(KindInvalidRequest, errors.New("temperature must be between 0 and 2"))
	}
	return nil
}

func outcome(err error) string {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return string(genErr.Kind)
	}
	return "canceled"
}
