package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/brief/internal/models"
)

// OllamaBackend generates through a local Ollama server via langchaingo.
type OllamaBackend struct {
	client *http.Client
}

func NewOllamaBackend(client *http.Client) *OllamaBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaBackend{client: client}
}

func (b *OllamaBackend) Generate(ctx context.Context, spec ModelSpec, req models.CompletionRequest) (string, error) {
	recorder := &statusRecorder{next: b.client.Transport}
	httpClient := *b.client
	httpClient.Transport = recorder

	serverURL := spec.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(spec.apiName()),
		ollama.WithServerURL(serverURL),
		ollama.WithHTTPClient(&httpClient),
	)
	if err != nil {
		return "", newError(KindInvalidRequest, fmt.Errorf("failed to initialize LLM: %w", err))
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		if status := recorder.status(); status != 0 && status != http.StatusOK {
			return "", classifyStatus(status, []byte(err.Error()))
		}
		if recorder.status() == http.StatusOK {
			return "", newError(KindMalformedResponse, err)
		}
		return "", classifyTransport(err)
	}

	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", newError(KindMalformedResponse, errors.New("no choices in response"))
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", newError(KindMalformedResponse, errors.New("empty content in response"))
	}
	return text, nil
}

func messageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// statusRecorder keeps the last HTTP status seen so that errors langchaingo
// reports as plain strings can still be classified.
type statusRecorder struct {
	next http.RoundTripper

	mu   sync.Mutex
	code int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	next := r.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err == nil {
		r.mu.Lock()
		r.code = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}
