package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/prompt"
	"go.uber.org/zap"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoSummary     = errors.New("no summary to ask about")
)

type Config struct {
	// Model answers follow-up questions.
	Model string

	MaxTokens   int
	Temperature float64

	// PromptTurns is how many recent turns are replayed to the model.
	PromptTurns int

	Logger *zap.Logger
}

// Manager answers follow-up questions grounded in a summary.
type Manager struct {
	config    Config
	generator types.Generator
	builder   *prompt.Builder
	logger    *zap.Logger
	now       func() time.Time
}

func NewManager(config Config, generator types.Generator, builder *prompt.Builder) *Manager {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 500
	}
	if config.PromptTurns < 0 {
		config.PromptTurns = 0
	}
	if builder == nil {
		builder = prompt.NewBuilder()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:    config,
		generator: generator,
		builder:   builder,
		logger:    logger,
		now:       time.Now,
	}
}

// Ask sends the question with the summary and recent history to the model.
// On success the question and the reply are appended to history and the
// reply is returned. On failure history is unchanged.
func (m *Manager) Ask(ctx context.Context, question, summary string, history *History) (models.ConversationTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.ConversationTurn{}, ErrEmptyQuestion
	}
	if strings.TrimSpace(summary) == "" {
		return models.ConversationTurn{}, ErrNoSummary
	}

	p := m.builder.Followup(summary, question)
	messages := []models.Message{{Role: models.RoleSystem, Content: p.System}}
	for _, turn := range history.Last(m.config.PromptTurns) {
		messages = append(messages, models.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: p.User})

	asked := m.now()
	completion, err := m.generator.Complete(ctx, models.CompletionRequest{
		Model:       m.config.Model,
		Messages:    messages,
		MaxTokens:   m.config.MaxTokens,
		Temperature: m.config.Temperature,
	})
	if err != nil {
		return models.ConversationTurn{}, fmt.Errorf("ask: %w", err)
	}

	reply := models.ConversationTurn{
		Role:      models.RoleAssistant,
		Content:   completion.Text,
		Timestamp: m.now(),
	}
	history.Append(
		models.ConversationTurn{Role: models.RoleUser, Content: question, Timestamp: asked},
		reply,
	)

	m.logger.Debug("follow-up answered",
		zap.String("model", completion.Model),
		zap.Int("history", history.Len()))

	return reply, nil
}
