package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ppiankov/verdict/internal/model"
)

// Adapter is a model-backed provider that answers one stage request
type Adapter interface {
	// Name returns the provider name recorded in the trace
	Name() string

	// Invoke sends the request and returns the raw output.
	// Implementations must honor ctx cancellation.
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Request is a single stage prompt
type Request struct {
	Stage model.Stage

	// System is the stage system prompt
	System string

	// Payload is the rendered user prompt (or raw content for label APIs)
	Payload string

	// MaxTokens overrides the adapter default when positive
	MaxTokens int
}

// PromptID returns the stable identifier of the prompt pair
func (r Request) PromptID() string {
	sum := sha256.Sum256([]byte(r.System + "\n\n" + r.Payload))
	return hex.EncodeToString(sum[:])
}

// Response is the raw provider answer
type Response struct {
	// Output is the raw text (JSON for generative models)
	Output string

	// Confidence is the provider-reported confidence, 0 when the provider has none
	Confidence float64

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "groq", "anthropic", "ollama", "labeler", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, Groq, Azure)
	BaseURL string

	// MaxTokens for response generation
	MaxTokens int

	// Temperature for generative providers
	Temperature float32

	// Labeler identity for the label API
	LabelerID      string
	LabelerVersion string

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		MaxTokens:   1500,
		Temperature: 0.2,
	}
}
