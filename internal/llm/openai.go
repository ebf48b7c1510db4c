package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/verdict/internal/util"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIAdapter implements Adapter for OpenAI-compatible chat APIs (OpenAI, Groq, Azure gateways)
type OpenAIAdapter struct {
	name   string
	client *openai.Client
	config Config
}

// NewOpenAIAdapter creates a new OpenAI-compatible adapter
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", providerName(config))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	switch {
	case config.BaseURL != "":
		clientConfig.BaseURL = config.BaseURL
	case strings.EqualFold(config.Provider, "groq"):
		clientConfig.BaseURL = groqBaseURL
	}
	if config.HTTPProxy != "" || config.HTTPSProxy != "" {
		clientConfig.HTTPClient = util.NewHTTPClient(config.HTTPProxy, config.HTTPSProxy)
	}

	return &OpenAIAdapter{
		name:   providerName(config),
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIAdapter) Name() string {
	return p.name
}

// Invoke runs a JSON-mode chat completion
func (p *OpenAIAdapter) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := p.config.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 1500
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: jsonSystemPrompt(req.System)},
			{Role: openai.ChatMessageRoleUser, Content: req.Payload},
		},
		MaxTokens:   maxTokens,
		Temperature: p.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &AdapterError{Provider: p.name, Err: fmt.Errorf("no choices in response")}
	}

	return &Response{
		Output:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func providerName(config Config) string {
	if config.Provider == "" {
		return "openai"
	}
	return strings.ToLower(config.Provider)
}

// jsonSystemPrompt appends the JSON-only instruction every generative stage relies on
func jsonSystemPrompt(system string) string {
	const suffix = "Respond with valid JSON only, matching the expected schema."
	if system == "" {
		return suffix
	}
	return system + "\n\nIMPORTANT: " + suffix
}
