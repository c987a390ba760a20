package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultOllamaURL = "http://localhost:11434"

type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Models       []ModelConfig      `yaml:"models"`
	Retry        RetryConfig        `yaml:"retry"`
	Policy       PolicyConfig       `yaml:"policy"`
	Fetcher      FetcherConfig      `yaml:"fetcher"`
	Processor    ProcessorConfig    `yaml:"processor"`
	Summary      SummaryConfig      `yaml:"summary"`
	Conversation ConversationConfig `yaml:"conversation"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	FollowupModel string        `yaml:"followup_model"`
	EmbedModel    string        `yaml:"embed_model"`
	EmbedBaseURL  string        `yaml:"embed_base_url"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	APIKeyEnv     string        `yaml:"api_key_env"`
}

// ModelConfig is one row of the capability table.
type ModelConfig struct {
	ID              string `yaml:"id"`
	Provider        string `yaml:"provider"`
	BaseURL         string `yaml:"base_url"`
	APIName         string `yaml:"api_name"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	APIKeyEnv       string `yaml:"api_key_env"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type PolicyConfig struct {
	UserAgent string        `yaml:"user_agent"`
	FailOpen  bool          `yaml:"fail_open"`
	Timeout   time.Duration `yaml:"timeout"`
}

type FetcherConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rate_limit"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type ProcessorConfig struct {
	MinBlockChars   int `yaml:"min_block_chars"`
	MinContentChars int `yaml:"min_content_chars"`
	MaxInputChars   int `yaml:"max_input_chars"`
}

type SummaryConfig struct {
	WordTarget int  `yaml:"word_target"`
	KeyPoints  bool `yaml:"key_points"`
	Statistics bool `yaml:"statistics"`
	Trends     bool `yaml:"trends"`
}

type ConversationConfig struct {
	HistoryLimit int     `yaml:"history_limit"`
	PromptTurns  int     `yaml:"prompt_turns"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/brief/config.yaml"),
			"/etc/brief/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Environment wins over the file
	mergeWithEnv(config)

	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// newConfig presets the fields whose zero value is a valid setting, so the
// file can override them with zero.
func newConfig() *Config {
	config := &Config{}
	config.LLM.Temperature = 0.7
	config.Conversation.Temperature = 0.3
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = defaultOllamaURL
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.FollowupModel == "" {
		config.LLM.FollowupModel = config.LLM.Model
	}
	if config.LLM.EmbedModel == "" {
		config.LLM.EmbedModel = "nomic-embed-text:latest"
	}
	if config.LLM.EmbedBaseURL == "" {
		// Embeddings always come from Ollama.
		if config.LLM.Provider == "ollama" {
			config.LLM.EmbedBaseURL = config.LLM.BaseURL
		} else {
			config.LLM.EmbedBaseURL = defaultOllamaURL
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.BaseDelay == 0 {
		config.Retry.BaseDelay = 2 * time.Second
	}
	if config.Retry.MaxDelay == 0 {
		config.Retry.MaxDelay = 8 * time.Second
	}

	if config.Policy.UserAgent == "" {
		config.Policy.UserAgent = "BriefBot"
	}
	if config.Policy.Timeout == 0 {
		config.Policy.Timeout = 10 * time.Second
	}

	if config.Fetcher.Timeout == 0 {
		config.Fetcher.Timeout = 10 * time.Second
	}
	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 2.0
	}
	if config.Fetcher.MaxBodyBytes == 0 {
		config.Fetcher.MaxBodyBytes = 5 << 20
	}

	if config.Processor.MinBlockChars == 0 {
		config.Processor.MinBlockChars = 50
	}
	if config.Processor.MinContentChars == 0 {
		config.Processor.MinContentChars = 50
	}
	if config.Processor.MaxInputChars == 0 {
		config.Processor.MaxInputChars = 12000
	}

	if config.Summary.WordTarget == 0 {
		config.Summary.WordTarget = 300
	}

	if config.Conversation.HistoryLimit == 0 {
		config.Conversation.HistoryLimit = 10
	}
	if config.Conversation.PromptTurns == 0 {
		config.Conversation.PromptTurns = config.Conversation.HistoryLimit
	}
	if config.Conversation.MaxTokens == 0 {
		config.Conversation.MaxTokens = 500
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "summaries"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Redis.SessionTTL == 0 {
		config.Redis.SessionTTL = 24 * time.Hour
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.EmbedBaseURL = baseURL
		if config.LLM.Provider == "" || config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
	}
	if baseURL := os.Getenv("BRIEF_LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}
	if level := os.Getenv("BRIEF_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
