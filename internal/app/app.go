// Package app assembles the pipeline from configuration. Both the CLI and
// the websocket server are built on it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/config"
	"github.com/xhad/brief/pkg/conversation"
	"github.com/xhad/brief/pkg/llm"
	"github.com/xhad/brief/pkg/orchestrator"
	"github.com/xhad/brief/pkg/policy"
	"github.com/xhad/brief/pkg/processor"
	"github.com/xhad/brief/pkg/prompt"
	"github.com/xhad/brief/pkg/scraper"
	"github.com/xhad/brief/pkg/store"
	"go.uber.org/zap"
)

var (
	_ types.PolicyGate     = (*policy.Gate)(nil)
	_ types.Fetcher        = (*scraper.Fetcher)(nil)
	_ types.Extractor      = processor.Processor{}
	_ types.Generator      = (*llm.Client)(nil)
	_ types.Embedder       = (*llm.Embedder)(nil)
	_ types.SummaryLibrary = (*store.Archive)(nil)
)

type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Registry     *llm.Registry
	Sessions     store.SessionStore
	Archive      *store.Archive
	Logger       *zap.Logger

	closers []func()
}

// Options control which optional backing services are connected.
type Options struct {
	// Archive connects the Postgres summary archive when a database URL is
	// configured.
	Archive bool
	// Sessions connects Redis for session snapshots when an address is
	// configured; otherwise snapshots stay in memory.
	Sessions bool
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	a.Registry = Registry(cfg)
	logger.Debug("capability table loaded", zap.Strings("models", a.Registry.IDs()))
	client := llm.NewClient(a.Registry,
		llm.WithRetryPolicy(llm.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithLogger(logger.Named("llm")),
	)

	fetcher := scraper.NewWithConfig(scraper.ScraperConfig{
		UserAgent:    cfg.Policy.UserAgent,
		Timeout:      cfg.Fetcher.Timeout,
		RateLimit:    cfg.Fetcher.RateLimit,
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
		Logger:       logger.Named("scraper"),
	})

	policyClient := &http.Client{Timeout: cfg.Policy.Timeout}
	newGate := func() types.PolicyGate {
		return policy.New(policy.Config{
			UserAgent: cfg.Policy.UserAgent,
			FailOpen:  cfg.Policy.FailOpen,
			Timeout:   cfg.Policy.Timeout,
			Logger:    logger.Named("policy"),
		}, policyClient)
	}

	builder := prompt.NewBuilder()
	deps := orchestrator.Dependencies{
		NewGate: newGate,
		Fetcher: fetcher,
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			MinBlockChars:   cfg.Processor.MinBlockChars,
			MinContentChars: cfg.Processor.MinContentChars,
			MaxInputChars:   cfg.Processor.MaxInputChars,
		}),
		Builder:   builder,
		Generator: client,
		Conversation: conversation.NewManager(conversation.Config{
			Model:       cfg.LLM.FollowupModel,
			MaxTokens:   cfg.Conversation.MaxTokens,
			Temperature: cfg.Conversation.Temperature,
			PromptTurns: cfg.Conversation.PromptTurns,
			Logger:      logger.Named("conversation"),
		}, client, builder),
	}

	if opts.Archive && cfg.Database.URL != "" {
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:   cfg.LLM.EmbedModel,
			BaseURL: cfg.LLM.EmbedBaseURL,
		})
		if err != nil {
			return nil, err
		}
		archive, err := store.NewArchive(ctx, store.ArchiveConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
		}, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize summary archive: %w", err)
		}
		a.Archive = archive
		deps.Archive = archive
		a.closers = append(a.closers, archive.Close)
	}

	if opts.Sessions && cfg.Redis.Addr != "" {
		sessions, err := store.NewRedisSessionStore(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SessionTTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Sessions = sessions
		a.closers = append(a.closers, func() { _ = sessions.Close() })
	} else {
		a.Sessions = store.NewMemorySessionStore(cfg.Redis.SessionTTL)
	}

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		SummaryModel: cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		WordTarget:   cfg.Summary.WordTarget,
		Features: prompt.Features{
			KeyPoints:  cfg.Summary.KeyPoints,
			Statistics: cfg.Summary.Statistics,
			Trends:     cfg.Summary.Trends,
		},
		HistoryLimit: cfg.Conversation.HistoryLimit,
		Logger:       logger.Named("orchestrator"),
	}, deps)

	return a, nil
}

// Registry builds the capability table. Rows from the models section win;
// the llm section supplies rows for its summary and follow-up models when
// they are not listed.
func Registry(cfg *config.Config) *llm.Registry {
	r := llm.NewRegistry()
	for _, m := range cfg.Models {
		r.Register(llm.ModelSpec{
			ID:              m.ID,
			Provider:        m.Provider,
			BaseURL:         m.BaseURL,
			APIName:         m.APIName,
			MaxOutputTokens: m.MaxOutputTokens,
			APIKeyEnv:       m.APIKeyEnv,
		})
	}
	for _, id := range []string{cfg.LLM.Model, cfg.LLM.FollowupModel} {
		if id == "" {
			continue
		}
		r.Register(llm.ModelSpec{
			ID:        id,
			Provider:  cfg.LLM.Provider,
			BaseURL:   cfg.LLM.BaseURL,
			APIKeyEnv: cfg.LLM.APIKeyEnv,
		})
	}
	return r
}

// Library returns the summary archive, or nil when none is connected.
func (a *App) Library() types.SummaryLibrary {
	if a.Archive == nil {
		return nil
	}
	return a.Archive
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
