package llm

import (
	"fmt"
	"os"

	"github.com/skillstream/skillstream/internal/config"
)

// New builds a Client from configuration. The API key is read from the
// environment variable named in the config, never from the config file.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("llm: %s is not set", cfg.APIKeyEnv)
		}
		return NewOpenAIClient(apiKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q (supported: openai, mock)", cfg.Provider)
	}
}
