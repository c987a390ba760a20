package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{
	"ollama": true,
	"openai": true,
}

var knownLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "generation base URL is required",
		})
	} else if !isHTTPURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid generation base URL",
		})
	}

	if !isHTTPURL(c.LLM.EmbedBaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.embed_base_url",
			Message: "invalid embedding base URL",
		})
	}

	if !knownProviders[c.LLM.Provider] {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "timeout must be positive",
		})
	}

	// Validate capability table
	seen := make(map[string]bool)
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Message: "model id is required",
			})
		} else if seen[m.ID] {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate model id: %s", m.ID),
			})
		}
		seen[m.ID] = true

		if !knownProviders[m.Provider] {
			errors = append(errors, ValidationError{
				Field:   field + ".provider",
				Message: fmt.Sprintf("unknown provider: %s", m.Provider),
			})
		}
		if m.BaseURL != "" && !isHTTPURL(m.BaseURL) {
			errors = append(errors, ValidationError{
				Field:   field + ".base_url",
				Message: "invalid base URL",
			})
		}
	}

	// Validate retry policy
	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay",
			Message: "max_delay must not be lower than base_delay",
		})
	}

	// Validate policy and fetcher
	if strings.TrimSpace(c.Policy.UserAgent) == "" {
		errors = append(errors, ValidationError{
			Field:   "policy.user_agent",
			Message: "user_agent is required",
		})
	}

	if c.Fetcher.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.timeout",
			Message: "timeout must be positive",
		})
	}

	if c.Fetcher.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Fetcher.MaxBodyBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.max_body_bytes",
			Message: "max_body_bytes must be positive",
		})
	}

	// Validate processor config
	if c.Processor.MaxInputChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.max_input_chars",
			Message: "max_input_chars must be positive",
		})
	}

	if c.Processor.MinBlockChars < 0 || c.Processor.MinContentChars < 0 {
		errors = append(errors, ValidationError{
			Field:   "processor.min_block_chars",
			Message: "minimum lengths must be non-negative",
		})
	}

	if c.Summary.WordTarget < 1 {
		errors = append(errors, ValidationError{
			Field:   "summary.word_target",
			Message: "word_target must be positive",
		})
	}

	// Validate conversation config
	if c.Conversation.HistoryLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "conversation.history_limit",
			Message: "history_limit must be positive",
		})
	}

	if c.Conversation.PromptTurns < 0 || c.Conversation.PromptTurns > c.Conversation.HistoryLimit {
		errors = append(errors, ValidationError{
			Field:   "conversation.prompt_turns",
			Message: "prompt_turns must be between 0 and history_limit",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if !knownLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown log level: %s", c.Log.Level),
		})
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
