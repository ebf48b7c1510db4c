package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verdict/internal/model"
)

// NewAdapter creates a provider adapter based on configuration
func NewAdapter(config Config) (Adapter, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai", "groq", "azure":
		return NewOpenAIAdapter(config)

	case "anthropic", "claude":
		return NewAnthropicAdapter(config)

	case "ollama":
		return NewOllamaAdapter(config)

	case "labeler", "zentropi":
		return NewLabelerAdapter(config)

	case "":
		// No provider configured
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, groq, anthropic, ollama, labeler)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(modelConfig model.LLMConfig, providers model.ProvidersConfig) Config {
	return Config{
		Provider:       modelConfig.Provider,
		Model:          modelConfig.Model,
		APIKey:         modelConfig.APIKey,
		BaseURL:        modelConfig.BaseURL,
		MaxTokens:      modelConfig.MaxTokens,
		Temperature:    modelConfig.Temperature,
		LabelerID:      modelConfig.LabelerID,
		LabelerVersion: modelConfig.Version,
		HTTPProxy:      providers.HTTPProxy,
		HTTPSProxy:     providers.HTTPSProxy,
	}
}
