package config

import (
	"errors"

	"github.com/ilyakaznacheev/cleanenv"
)

type Cosmos struct {
	Endpoint       string `env:"AZURE_COSMOSDB_ACCOUNT"`
	AccountKey     string `env:"AZURE_COSMOSDB_ACCOUNT_KEY"`
	Database       string `env:"AZURE_COSMOSDB_DATABASE" env-default:"db_conversation_history"`
	Container      string `env:"AZURE_COSMOSDB_CONVERSATIONS_CONTAINER" env-default:"conversations"`
	EnableFeedback bool   `env:"AZURE_COSMOSDB_ENABLE_FEEDBACK" env-default:"false"`
}

type AzureOpenAI struct {
	Endpoint      string  `env:"AZURE_OPENAI_ENDPOINT"`
	Key           string  `env:"AZURE_OPENAI_KEY"`
	Model         string  `env:"AZURE_OPENAI_MODEL"`
	APIVersion    string  `env:"AZURE_OPENAI_PREVIEW_API_VERSION" env-default:"2024-02-15-preview"`
	SystemMessage string  `env:"AZURE_OPENAI_SYSTEM_MESSAGE" env-default:"You are an AI assistant that helps people find information."`
	Temperature   float32 `env:"AZURE_OPENAI_TEMPERATURE" env-default:"0"`
	MaxTokens     int     `env:"AZURE_OPENAI_MAX_TOKENS" env-default:"1000"`
}

type Search struct {
	PermittedGroupsColumn string `env:"AZURE_SEARCH_PERMITTED_GROUPS_COLUMN"`
}

type Config struct {
	Addr           string `env:"LISTEN_ADDR" env-default:":8080"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" env-default:"*"`
	Debug          bool   `env:"DEBUG" env-default:"false"`

	Cosmos Cosmos
	OpenAI AzureOpenAI
	Search Search
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.Cosmos.Endpoint == "" {
		return nil, errors.New("config: AZURE_COSMOSDB_ACCOUNT is required")
	}
	if cfg.OpenAI.Endpoint == "" || cfg.OpenAI.Key == "" || cfg.OpenAI.Model == "" {
		return nil, errors.New("config: AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY and AZURE_OPENAI_MODEL are required")
	}
	return &cfg, nil
}
