// Package orchestrator runs the summarize and ask pipelines for a session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/conversation"
	"github.com/xhad/brief/pkg/logging"
	"github.com/xhad/brief/pkg/metrics"
	"github.com/xhad/brief/pkg/policy"
	"github.com/xhad/brief/pkg/processor"
	"github.com/xhad/brief/pkg/prompt"
	"go.uber.org/zap"
)

var (
	ErrPolicyDisallowed = fmt.Errorf("source rejected: %w", policy.ErrDisallowed)
	// ErrSuperseded is returned when a newer summarize or reset replaced the
	// content this call was working on. Its result has been discarded.
	ErrSuperseded   = errors.New("superseded by a newer request")
	ErrNoSummary    = errors.New("nothing has been summarized yet")
	ErrInvalidInput = errors.New("exactly one of url or text is required")
)

// Input is the content source of a Summarize call.
type Input struct {
	URL  string
	Text string
}

// Validate reports ErrInvalidInput unless exactly one source is set.
func (in Input) Validate() error {
	if (strings.TrimSpace(in.URL) == "") == (strings.TrimSpace(in.Text) == "") {
		return ErrInvalidInput
	}
	return nil
}

// Options override the configured defaults for one call.
type Options struct {
	WordTarget int
	Features   *prompt.Features
	Model      string
}

type Result struct {
	Summary models.Summary
	// Budget holds the limits applied to this request.
	Budget models.Budget

	ContentTooShort bool
	Truncated       bool
	// Warnings holds non-fatal conditions such as processor.ErrContentTooShort.
	Warnings []error
}

type Config struct {
	SummaryModel string
	MaxTokens    int
	Temperature  float64
	WordTarget   int
	Features     prompt.Features
	HistoryLimit int
	Logger       *zap.Logger
}

// Dependencies are the pipeline stages. NewGate is called once per session
// so that crawling policy caches live exactly as long as the session.
type Dependencies struct {
	NewGate      func() types.PolicyGate
	Fetcher      types.Fetcher
	Processor    processor.Processor
	Builder      *prompt.Builder
	Generator    types.Generator
	Conversation *conversation.Manager

	// Archive is optional.
	Archive types.SummaryArchive
}

type Orchestrator struct {
	config Config
	deps   Dependencies
	logger *zap.Logger
}

func New(config Config, deps Dependencies) *Orchestrator {
	if config.WordTarget <= 0 {
		config.WordTarget = 300
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = conversation.DefaultHistoryLimit
	}
	if deps.Builder == nil {
		deps.Builder = prompt.NewBuilder()
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		logger: logging.OrNop(config.Logger),
	}
}

// NewSession creates an empty session. An empty id gets a generated one.
func (o *Orchestrator) NewSession(id string) *Session {
	var gate types.PolicyGate
	if o.deps.NewGate != nil {
		gate = o.deps.NewGate()
	}
	return newSession(id, o.config.HistoryLimit, gate)
}

// Summarize replaces the session's summary with one generated from input.
// The previous summary and history are discarded before any work starts.
func (o *Orchestrator) Summarize(ctx context.Context, s *Session, input Input, opts Options) (*Result, error) {
	if err := input.Validate(); err != nil {
		observe("summarize", err)
		return nil, err
	}
	return o.SummarizeIntent(ctx, s, s.Begin(), input, opts)
}

// SummarizeIntent is Summarize for a claim already taken with Session.Begin.
// It returns ErrSuperseded once a newer claim exists.
func (o *Orchestrator) SummarizeIntent(ctx context.Context, s *Session, intent Intent, input Input, opts Options) (*Result, error) {
	result, err := o.summarize(ctx, s, intent.epoch, input, opts)
	observe("summarize", err)
	return result, err
}

func observe(pipeline string, err error) {
	switch {
	case err == nil:
		metrics.IncPipeline(pipeline, "ok")
	case errors.Is(err, ErrSuperseded):
		metrics.IncPipeline(pipeline, "superseded")
	default:
		metrics.IncPipeline(pipeline, "error")
	}
}

func (o *Orchestrator) summarize(ctx context.Context, s *Session, epoch uint64, input Input, opts Options) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	input.URL = strings.TrimSpace(input.URL)

	wordTarget := o.config.WordTarget
	if opts.WordTarget > 0 {
		wordTarget = opts.WordTarget
	}
	features := o.config.Features
	if opts.Features != nil {
		features = *opts.Features
	}
	model := o.config.SummaryModel
	if opts.Model != "" {
		model = opts.Model
	}

	logger := o.logger.With(zap.String("session", s.ID))

	var extracted models.ExtractedText
	if input.URL != "" {
		var err error
		extracted, err = o.load(ctx, s, epoch, input.URL, logger)
		if err != nil {
			return nil, err
		}
	} else {
		extracted = o.deps.Processor.Normalize(input.Text, "text")
	}
	if err := s.advance(epoch, StateContentReady); err != nil {
		return nil, err
	}

	result := &Result{Budget: o.deps.Processor.Budget(wordTarget)}
	result.ContentTooShort = o.deps.Processor.TooShort(extracted.Text, result.Budget)
	if result.ContentTooShort {
		result.Warnings = append(result.Warnings, processor.ErrContentTooShort)
	}
	extracted, result.Truncated = o.deps.Processor.Fit(extracted, result.Budget)
	if result.Truncated {
		result.Warnings = append(result.Warnings, processor.ErrBudgetExceeded)
	}

	p := o.deps.Builder.Summary(extracted.Text, result.Budget.MaxOutputWords, features, result.ContentTooShort)
	completion, err := o.deps.Generator.Complete(ctx, models.CompletionRequest{
		Model:       model,
		Messages:    p.Messages(),
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
	})
	if err != nil {
		if errors.Is(s.advance(epoch, StateContentReady), ErrSuperseded) {
			return nil, ErrSuperseded
		}
		logger.Error("summary generation failed", zap.Error(err))
		return nil, fmt.Errorf("summarize: %w", err)
	}

	summary := models.Summary{
		ID:         uuid.NewString(),
		Text:       completion.Text,
		WordTarget: wordTarget,
		ModelID:    completion.Model,
		CreatedAt:  time.Now().UTC(),
		SourceRef:  extracted.SourceRef,
	}
	if err := s.commitSummary(epoch, summary); err != nil {
		logger.Info("discarding superseded summary", zap.String("source", summary.SourceRef))
		return nil, err
	}
	result.Summary = summary

	logger.Info("summary ready",
		zap.String("source", summary.SourceRef),
		zap.String("model", summary.ModelID),
		zap.Int("input_chars", extracted.CharCount),
		zap.Bool("short", result.ContentTooShort),
		zap.Bool("truncated", result.Truncated),
		zap.Int("attempts", completion.Attempts))

	o.archive(ctx, summary, logger)
	return result, nil
}

// load runs the policy check, the fetch and extraction for a URL source.
func (o *Orchestrator) load(ctx context.Context, s *Session, epoch uint64, rawURL string, logger *zap.Logger) (models.ExtractedText, error) {
	if s.gate != nil {
		decision, err := s.gate.Evaluate(ctx, rawURL)
		if err != nil {
			if errors.Is(s.advance(epoch, StateRejected), ErrSuperseded) {
				return models.ExtractedText{}, ErrSuperseded
			}
			return models.ExtractedText{}, fmt.Errorf("check policy: %w", err)
		}
		if err := s.recordPolicy(epoch, decision); err != nil {
			return models.ExtractedText{}, err
		}
		if !decision.Allowed {
			logger.Info("source rejected by crawling policy",
				zap.String("url", rawURL),
				zap.String("reason", decision.Reason))
			return models.ExtractedText{}, fmt.Errorf("%w: %s", ErrPolicyDisallowed, decision.Reason)
		}
	} else if err := s.advance(epoch, StatePolicyChecked); err != nil {
		return models.ExtractedText{}, err
	}

	doc, err := o.deps.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(s.advance(epoch, StateRejected), ErrSuperseded) {
			return models.ExtractedText{}, ErrSuperseded
		}
		return models.ExtractedText{}, fmt.Errorf("fetch: %w", err)
	}

	extracted, err := o.deps.Processor.ExtractDocument(doc)
	if err != nil {
		if errors.Is(s.advance(epoch, StateRejected), ErrSuperseded) {
			return models.ExtractedText{}, ErrSuperseded
		}
		return models.ExtractedText{}, fmt.Errorf("extract: %w", err)
	}
	return extracted, nil
}

func (o *Orchestrator) archive(ctx context.Context, summary models.Summary, logger *zap.Logger) {
	if o.deps.Archive == nil {
		return
	}
	if err := o.deps.Archive.Save(ctx, summary); err != nil {
		logger.Warn("failed to archive summary", zap.String("id", summary.ID), zap.Error(err))
	}
}

// Ask answers a follow-up question about the session's current summary.
// Questions on one session run one at a time.
func (o *Orchestrator) Ask(ctx context.Context, s *Session, question string) (models.ConversationTurn, error) {
	return o.AskIntent(ctx, s, s.Current(), question)
}

// AskIntent is Ask for a question received while intent was current. It
// returns ErrSuperseded if the session content changed since.
func (o *Orchestrator) AskIntent(ctx context.Context, s *Session, intent Intent, question string) (models.ConversationTurn, error) {
	reply, err := o.ask(ctx, s, intent.epoch, question)
	observe("ask", err)
	return reply, err
}

func (o *Orchestrator) ask(ctx context.Context, s *Session, epoch uint64, question string) (models.ConversationTurn, error) {
	s.askMu.Lock()
	defer s.askMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return models.ConversationTurn{}, ErrSuperseded
	}
	if s.summary == nil {
		s.mu.Unlock()
		return models.ConversationTurn{}, ErrNoSummary
	}
	summary := s.summary.Text
	history := s.history.Clone()
	s.mu.Unlock()

	reply, err := o.deps.Conversation.Ask(ctx, question, summary, history)
	if err != nil {
		return models.ConversationTurn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return models.ConversationTurn{}, ErrSuperseded
	}
	s.history = history
	s.state = StateConversing
	return reply, nil
}
