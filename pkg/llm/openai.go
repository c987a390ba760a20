package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xhad/brief/internal/models"
)

// maxResponseSize limits the response body read from the service.
const maxResponseSize = 10 * 1024 * 1024

// OpenAIBackend speaks the OpenAI-compatible chat completions protocol, which
// also covers OpenRouter.
type OpenAIBackend struct {
	client *http.Client
}

func NewOpenAIBackend(client *http.Client) *OpenAIBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIBackend{client: client}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

func chatURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (b *OpenAIBackend) Generate(ctx context.Context, spec ModelSpec, req models.CompletionRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       spec.apiName(),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", newError(KindInvalidRequest, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(spec.BaseURL), bytes.NewReader(body))
	if err != nil {
		return "", newError(KindInvalidRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if spec.APIKeyEnv != "" {
		if key := os.Getenv(spec.APIKeyEnv); key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	return parseChatResponse(respBody)
}

func parseChatResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", newError(KindMalformedResponse, fmt.Errorf("response is not valid JSON"))
	}

	// Some gateways report failures inside a 200 body.
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return "", newError(KindServerError, fmt.Errorf("%s", msg.String()))
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type != gjson.String || strings.TrimSpace(content.String()) == "" {
		return "", newError(KindMalformedResponse, fmt.Errorf("no message content in response"))
	}
	return content.String(), nil
}
