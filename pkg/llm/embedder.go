package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
)

type EmbedderConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// Embedder turns summaries into vectors for the archive.
type Embedder struct {
	Config EmbedderConfig
	embed  *ollama.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		Config: config,
		embed:  emb,
	}, nil
}

// EmbedQuery returns the embedding of a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	embeddings, err := e.embed.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, classifyTransport(err)
	}
	return FlattenEmbeddings(embeddings), nil
}

func FlattenEmbeddings(embeddings [][]float32) []float32 {
	var flattened []float32
	for _, emb := range embeddings {
		flattened = append(flattened, emb...)
	}
	return flattened
}
