package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("BRIEF_LLM_BASE_URL", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "openai"
  base_url: "https://openrouter.ai/api/v1"
  model: "gpt-4"
  followup_model: "mistral-7b"
  max_tokens: 1000
  temperature: 0.5
  timeout: 45s

models:
  - id: "gpt-4"
    provider: "openai"
    api_name: "openai/gpt-4"
    max_output_tokens: 4096
    api_key_env: "OPENROUTER_API_KEY"

retry:
  max_attempts: 4
  base_delay: 1s
  max_delay: 5s

policy:
  user_agent: "TestBot"
  fail_open: true

fetcher:
  timeout: 5s
  rate_limit: 1.5

processor:
  max_input_chars: 8000

summary:
  word_target: 500
  key_points: true
  trends: true

conversation:
  history_limit: 6
  prompt_turns: 4

log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "https://openrouter.ai/api/v1", config.LLM.BaseURL)
	assert.Equal(t, "gpt-4", config.LLM.Model)
	assert.Equal(t, "mistral-7b", config.LLM.FollowupModel)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "http://localhost:11434", config.LLM.EmbedBaseURL)
	assert.Equal(t, 0.3, config.Conversation.Temperature)
	assert.Equal(t, 45*time.Second, config.LLM.Timeout)
	require.Len(t, config.Models, 1)
	assert.Equal(t, "openai/gpt-4", config.Models[0].APIName)
	assert.Equal(t, 4, config.Retry.MaxAttempts)
	assert.Equal(t, time.Second, config.Retry.BaseDelay)
	assert.True(t, config.Policy.FailOpen)
	assert.Equal(t, "TestBot", config.Policy.UserAgent)
	assert.Equal(t, 5*time.Second, config.Fetcher.Timeout)
	assert.Equal(t, 8000, config.Processor.MaxInputChars)
	assert.Equal(t, 50, config.Processor.MinBlockChars)
	assert.Equal(t, 500, config.Summary.WordTarget)
	assert.True(t, config.Summary.KeyPoints)
	assert.False(t, config.Summary.Statistics)
	assert.Equal(t, 6, config.Conversation.HistoryLimit)
	assert.Equal(t, 4, config.Conversation.PromptTurns)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "mistral", config.LLM.FollowupModel)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, config.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, config.Retry.MaxDelay)
	assert.Equal(t, 10*time.Second, config.Fetcher.Timeout)
	assert.False(t, config.Policy.FailOpen)
	assert.Equal(t, 10, config.Conversation.HistoryLimit)
	assert.Equal(t, 500, config.Conversation.MaxTokens)
}

func TestZeroTemperature(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configData := `
llm:
  temperature: 0
conversation:
  temperature: 0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 0.0, config.LLM.Temperature)
	assert.Equal(t, 0.0, config.Conversation.Temperature)
	assert.Empty(t, config.Validate())

	config, err = getDefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.7, config.LLM.Temperature)
	assert.Equal(t, 0.3, config.Conversation.Temperature)
}

func TestEmbedBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("BRIEF_LLM_BASE_URL", "")

	tests := []struct {
		name string
		yaml string
		env  string
		want string
		llm  string
	}{
		{
			name: "ollama provider shares the generation URL",
			yaml: "llm:\n  provider: ollama\n  base_url: http://gpu-box:11434\n",
			want: "http://gpu-box:11434",
			llm:  "http://gpu-box:11434",
		},
		{
			name: "openai provider embeds with local ollama",
			yaml: "llm:\n  provider: openai\n  base_url: https://openrouter.ai/api/v1\n",
			want: "http://localhost:11434",
			llm:  "https://openrouter.ai/api/v1",
		},
		{
			name: "explicit embed URL",
			yaml: "llm:\n  provider: openai\n  base_url: https://openrouter.ai/api/v1\n  embed_base_url: http://embedder:11434\n",
			want: "http://embedder:11434",
			llm:  "https://openrouter.ai/api/v1",
		},
		{
			name: "OLLAMA_BASE_URL with openai provider",
			yaml: "llm:\n  provider: openai\n  base_url: https://openrouter.ai/api/v1\n",
			env:  "http://env-ollama:11434",
			want: "http://env-ollama:11434",
			llm:  "https://openrouter.ai/api/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OLLAMA_BASE_URL", tt.env)
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.yaml), 0644))

			config, err := LoadConfig(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.LLM.EmbedBaseURL)
			assert.Equal(t, tt.llm, config.LLM.BaseURL)
			assert.Empty(t, config.Validate())
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(c *Config) {},
			expectedErrs: 0,
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.EmbedBaseURL = "ftp://embedder"
				c.LLM.MaxTokens = 10000
				c.LLM.Temperature = 3.0
				c.Retry.MaxAttempts = 0
				c.Conversation.PromptTurns = 20
				c.Log.Level = "loud"
			},
			expectedErrs: 7,
			errorMessages: []string{
				"llm.base_url: invalid generation base URL",
				"llm.embed_base_url: invalid embedding base URL",
				"llm.max_tokens: max_tokens must be between 1 and 8192",
				"llm.temperature: temperature must be between 0 and 2",
				"retry.max_attempts: max_attempts must be positive",
				"conversation.prompt_turns: prompt_turns must be between 0 and history_limit",
				"log.level: unknown log level: loud",
			},
		},
		{
			name: "capability table",
			mutate: func(c *Config) {
				c.Models = []ModelConfig{
					{ID: "a", Provider: "openai"},
					{ID: "a", Provider: "bedrock"},
				}
			},
			expectedErrs: 2,
			errorMessages: []string{
				"models[1].id: duplicate model id: a",
				"models[1].provider: unknown provider: bedrock",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				require.Greater(t, len(errors), i)
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BRIEF_LLM_BASE_URL", "http://env-llm:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("BRIEF_LOG_LEVEL", "warn")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-llm:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "env-redis:6379", config.Redis.Addr)
	assert.Equal(t, 3, config.Redis.DB)
	assert.Equal(t, "warn", config.Log.Level)
}
