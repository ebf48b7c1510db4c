package model

import (
	"fmt"
	"math"
	"time"
)

// RoutingConfig holds every tunable the pipeline core reads.
// It is resolved once at startup and passed by value.
type RoutingConfig struct {
	ClaimConfidenceThreshold   float64  `yaml:"claim_confidence_threshold" mapstructure:"claim_confidence_threshold"`
	RiskConfidenceThreshold    float64  `yaml:"risk_confidence_threshold" mapstructure:"risk_confidence_threshold"`
	PolicyConfidenceThreshold  float64  `yaml:"policy_confidence_threshold" mapstructure:"policy_confidence_threshold"`
	MediumConfirmThreshold     float64  `yaml:"medium_confirm_threshold" mapstructure:"medium_confirm_threshold"` // <= 0 means RiskConfidenceThreshold
	HighConfirmThreshold       float64  `yaml:"high_confirm_threshold" mapstructure:"high_confirm_threshold"`     // <= 0 means RiskConfidenceThreshold
	NoveltySimilarityThreshold float64  `yaml:"novelty_similarity_threshold" mapstructure:"novelty_similarity_threshold"`
	EvidenceSimilarityCutoff   float64  `yaml:"evidence_similarity_cutoff" mapstructure:"evidence_similarity_cutoff"`
	ConflictEpsilon            float64  `yaml:"conflict_epsilon" mapstructure:"conflict_epsilon"`
	ExternalSearchAllowed      bool     `yaml:"external_search_allowed" mapstructure:"external_search_allowed"`
	ExternalAllowlist          []string `yaml:"external_allowlist" mapstructure:"external_allowlist"`
	EvidenceTopK               int      `yaml:"evidence_top_k" mapstructure:"evidence_top_k"`
	EvidenceConcurrency        int      `yaml:"evidence_concurrency" mapstructure:"evidence_concurrency"`

	StageTimeouts map[Stage]time.Duration `yaml:"stage_timeouts" mapstructure:"stage_timeouts"`
	// FallbackTimeouts bound the stronger adapter; a stage missing here uses its StageTimeouts entry
	FallbackTimeouts map[Stage]time.Duration `yaml:"fallback_timeouts" mapstructure:"fallback_timeouts"`
}

// DefaultRoutingConfig returns the thresholds the decision matrix was tuned with
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		ClaimConfidenceThreshold:   0.6,
		RiskConfidenceThreshold:    0.6,
		PolicyConfidenceThreshold:  0.7,
		NoveltySimilarityThreshold: 0.4,
		EvidenceSimilarityCutoff:   0.5,
		ConflictEpsilon:            0.1,
		ExternalSearchAllowed:      false,
		ExternalAllowlist: []string{
			"wikipedia.org", "who.int", "cdc.gov", "nih.gov", "factcheck.org", "reuters.com",
		},
		EvidenceTopK:        10,
		EvidenceConcurrency: 4,
		StageTimeouts: map[Stage]time.Duration{
			StageClaimExtraction:      10 * time.Second,
			StageRiskAssessment:       10 * time.Second,
			StageEvidenceRetrieval:    15 * time.Second,
			StageFactualityAssessment: 45 * time.Second,
			StagePolicyInterpretation: 10 * time.Second,
		},
		FallbackTimeouts: map[Stage]time.Duration{
			StageClaimExtraction:      45 * time.Second,
			StageRiskAssessment:       45 * time.Second,
			StagePolicyInterpretation: 45 * time.Second,
		},
	}
}

// MediumConfirm returns the effective medium-risk confirmation threshold
func (c RoutingConfig) MediumConfirm() float64 {
	if c.MediumConfirmThreshold > 0 {
		return c.MediumConfirmThreshold
	}
	return c.RiskConfidenceThreshold
}

// HighConfirm returns the effective high-risk confirmation threshold
func (c RoutingConfig) HighConfirm() float64 {
	if c.HighConfirmThreshold > 0 {
		return c.HighConfirmThreshold
	}
	return c.RiskConfidenceThreshold
}

// Timeout returns the primary timeout for a stage
func (c RoutingConfig) Timeout(stage Stage) time.Duration {
	return c.StageTimeouts[stage]
}

// FallbackTimeout returns the fallback timeout for a stage
func (c RoutingConfig) FallbackTimeout(stage Stage) time.Duration {
	if d, ok := c.FallbackTimeouts[stage]; ok && d > 0 {
		return d
	}
	return c.StageTimeouts[stage]
}

// Validate checks every threshold and timeout. It never partially applies.
func (c RoutingConfig) Validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"claim_confidence_threshold", c.ClaimConfidenceThreshold},
		{"risk_confidence_threshold", c.RiskConfidenceThreshold},
		{"policy_confidence_threshold", c.PolicyConfidenceThreshold},
		{"medium_confirm_threshold", c.MediumConfirmThreshold},
		{"high_confirm_threshold", c.HighConfirmThreshold},
		{"novelty_similarity_threshold", c.NoveltySimilarityThreshold},
		{"evidence_similarity_cutoff", c.EvidenceSimilarityCutoff},
		{"conflict_epsilon", c.ConflictEpsilon},
	}
	for _, th := range thresholds {
		if math.IsNaN(th.value) || th.value < 0 || th.value > 1 {
			return &ConfigurationError{Field: th.name, Reason: fmt.Sprintf("must be within [0,1], got %v", th.value)}
		}
	}

	if c.EvidenceTopK <= 0 {
		return &ConfigurationError{Field: "evidence_top_k", Reason: "must be positive"}
	}
	if c.EvidenceConcurrency <= 0 {
		return &ConfigurationError{Field: "evidence_concurrency", Reason: "must be positive"}
	}
	if c.ExternalSearchAllowed && len(c.ExternalAllowlist) == 0 {
		return &ConfigurationError{Field: "external_allowlist", Reason: "required when external search is allowed"}
	}

	for _, stage := range Stages {
		if stage == StageDecisionEvaluation {
			continue // pure, no external call
		}
		if c.StageTimeouts[stage] <= 0 {
			return &ConfigurationError{Field: "stage_timeouts." + string(stage), Reason: "must be a positive duration"}
		}
	}
	for stage, d := range c.FallbackTimeouts {
		if d < 0 {
			return &ConfigurationError{Field: "fallback_timeouts." + string(stage), Reason: "must not be negative"}
		}
	}

	return nil
}

// ConfigurationError reports invalid config before any stage executes
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config is the complete application configuration
type Config struct {
	Routing      RoutingConfig      `yaml:"routing" mapstructure:"routing"`
	Providers    ProvidersConfig    `yaml:"providers" mapstructure:"providers"`
	Evidence     EvidenceConfig     `yaml:"evidence" mapstructure:"evidence"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	PolicyFile   string             `yaml:"policy_file" mapstructure:"policy_file"`
	PromptsFile  string             `yaml:"prompts_file" mapstructure:"prompts_file"` // YAML map of stage to {system, user}
	Verbose      bool               `yaml:"verbose" mapstructure:"verbose"`
}

// LLMConfig configures one provider binding
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, groq, anthropic, ollama, labeler, ""
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"-" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	LabelerID   string  `yaml:"labeler_id,omitempty" mapstructure:"labeler_id"`
	Version     string  `yaml:"labeler_version_id,omitempty" mapstructure:"labeler_version_id"`
}

// ProvidersConfig binds the three provider classes to concrete adapters
type ProvidersConfig struct {
	FastClassifier  LLMConfig     `yaml:"fast_classifier" mapstructure:"fast_classifier"`
	Generator       LLMConfig     `yaml:"generator" mapstructure:"generator"`
	Frontier        LLMConfig     `yaml:"frontier" mapstructure:"frontier"`
	BreakerFailures uint32        `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	HTTPProxy       string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy      string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// EvidenceConfig configures the internal and external evidence sources
type EvidenceConfig struct {
	WeaviateHost   string        `yaml:"weaviate_host,omitempty" mapstructure:"weaviate_host"`
	WeaviateScheme string        `yaml:"weaviate_scheme" mapstructure:"weaviate_scheme"`
	WeaviateClass  string        `yaml:"weaviate_class" mapstructure:"weaviate_class"`
	CorpusFile     string        `yaml:"corpus_file,omitempty" mapstructure:"corpus_file"` // JSON corpus for in-memory search
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheDir       string        `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	SerperAPIKey   string        `yaml:"-" mapstructure:"serper_api_key"`
	WikipediaURL   string        `yaml:"wikipedia_url" mapstructure:"wikipedia_url"`
	MaxExternal    int           `yaml:"max_external_results" mapstructure:"max_external_results"`
}

// StoreConfig configures the governance store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // SQLite path; empty disables persistence
}

// ConcurrencyConfig controls batch parallelism
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitingConfig controls per-host external search rates
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Routing: DefaultRoutingConfig(),
		Providers: ProvidersConfig{
			FastClassifier:  LLMConfig{Provider: "", MaxTokens: 512},
			Generator:       LLMConfig{Provider: "groq", Model: "llama-3.1-8b-instant", MaxTokens: 1500, Temperature: 0.2},
			Frontier:        LLMConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 2000, Temperature: 0.3},
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Evidence: EvidenceConfig{
			WeaviateScheme: "http",
			WeaviateClass:  "Evidence",
			CacheTTL:       15 * time.Minute,
			WikipediaURL:   "https://en.wikipedia.org/w/api.php",
			MaxExternal:    5,
		},
		Store:       StoreConfig{Path: ""},
		Concurrency: ConcurrencyConfig{Workers: 4},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
	}
}
