package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/verdict/internal/cache"
	"github.com/ppiankov/verdict/internal/evidence"
	"github.com/ppiankov/verdict/internal/governance"
	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/metrics"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/pipeline"
	"github.com/ppiankov/verdict/internal/util"
	"github.com/ppiankov/verdict/internal/worker"
)

// Resolved holds the collaborators built from configuration at startup
type Resolved struct {
	Sequencer *pipeline.Sequencer
	Store     *governance.Store // nil when persistence is disabled
	Metrics   *metrics.Metrics
}

// Close releases the governance store
func (r *Resolved) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Resolve turns configuration into concrete adapters and evidence sources
// and builds a Sequencer over them. Nothing is resolved per call after this.
func Resolve(cfg *model.Config, log *zap.Logger, reg prometheus.Registerer) (*Resolved, error) {
	log = logging.OrNop(log)
	m := metrics.New(reg)

	bind, err := resolveAdapters(cfg.Providers, log)
	if err != nil {
		return nil, err
	}
	bind.Logger = log
	bind.Metrics = m

	evCache := evidenceCache(cfg.Evidence)

	bind.Evidence, err = resolveEvidence(cfg.Evidence, evCache, log)
	if err != nil {
		return nil, err
	}
	if cfg.Routing.ExternalSearchAllowed {
		bind.External = resolveExternal(cfg, evCache, log)
	}

	var opts []pipeline.Option
	if cfg.PolicyFile != "" {
		policy, err := pipeline.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPolicyText(policy))
	}
	if cfg.PromptsFile != "" {
		overrides, err := loadPrompts(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPromptOverrides(overrides))
	}

	res := &Resolved{Metrics: m}
	if cfg.Store.Path != "" {
		res.Store, err = governance.NewStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open governance store: %w", err)
		}
		bind.Recorder = res.Store
	}

	res.Sequencer, err = pipeline.New(cfg.Routing, bind, opts...)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

// resolveAdapters builds each provider class once and binds them to stages.
// The fast classifier only answers label-shaped stages (risk, policy); claim
// extraction needs a generator, and factuality goes to the strongest model.
func resolveAdapters(p model.ProvidersConfig, log *zap.Logger) (pipeline.Bindings, error) {
	log = logging.OrNop(log)
	fast, err := adapterFor("fast_classifier", p.FastClassifier, p, log)
	if err != nil {
		return pipeline.Bindings{}, err
	}
	generator, err := adapterFor("generator", p.Generator, p, log)
	if err != nil {
		return pipeline.Bindings{}, err
	}
	frontier, err := adapterFor("frontier", p.Frontier, p, log)
	if err != nil {
		return pipeline.Bindings{}, err
	}

	generator = firstAdapter(generator, frontier)
	fast = firstAdapter(fast, generator)
	if generator == nil {
		return pipeline.Bindings{}, &model.ConfigurationError{Field: "providers", Reason: "no generator or frontier provider configured"}
	}

	return pipeline.Bindings{
		Claims:     binding(generator, frontier),
		Risk:       binding(fast, frontier),
		Factuality: binding(firstAdapter(frontier, generator), nil),
		Policy:     binding(fast, frontier),
	}, nil
}

func adapterFor(class string, c model.LLMConfig, p model.ProvidersConfig, log *zap.Logger) (llm.Adapter, error) {
	a, err := llm.NewAdapter(llm.ConfigFromModel(c, p))
	if err != nil {
		return nil, &model.ConfigurationError{Field: "providers." + class, Reason: err.Error()}
	}
	if a == nil {
		return nil, nil
	}
	return llm.NewBreaker(a, p.BreakerFailures, p.BreakerCooldown, log.With(zap.String("class", class))), nil
}

func firstAdapter(adapters ...llm.Adapter) llm.Adapter {
	for _, a := range adapters {
		if a != nil {
			return a
		}
	}
	return nil
}

// binding drops a fallback that is the primary itself
func binding(primary, fallback llm.Adapter) pipeline.Binding {
	if fallback == primary {
		fallback = nil
	}
	return pipeline.Binding{Primary: primary, Fallback: fallback}
}

func evidenceCache(cfg model.EvidenceConfig) cache.Cache {
	if cfg.CacheTTL <= 0 {
		return nil
	}
	if cfg.CacheDir != "" {
		return cache.NewMemoryDiskCache(cfg.CacheTTL, cfg.CacheDir, cfg.CacheTTL)
	}
	return cache.NewMemoryCache(cfg.CacheTTL, 2*cfg.CacheTTL)
}

func resolveEvidence(cfg model.EvidenceConfig, c cache.Cache, log *zap.Logger) (evidence.Source, error) {
	var src evidence.Source
	switch {
	case cfg.WeaviateHost != "":
		ws, err := evidence.NewWeaviateSource(evidence.WeaviateConfig{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
			Class:  cfg.WeaviateClass,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate: %w", err)
		}
		src = ws
	case cfg.CorpusFile != "":
		docs, err := evidence.LoadCorpus(cfg.CorpusFile)
		if err != nil {
			return nil, err
		}
		src = evidence.NewMemorySource(docs)
	default:
		log.Warn("no evidence corpus configured, every claim will be treated as novel")
		src = evidence.NewMemorySource(nil)
	}

	if c != nil {
		src = evidence.NewCachedSource(src, c, cfg.CacheTTL, log)
	}
	return src, nil
}

func resolveExternal(cfg *model.Config, c cache.Cache, log *zap.Logger) evidence.ExternalSource {
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	client := util.NewHTTPClient(cfg.Providers.HTTPProxy, cfg.Providers.HTTPSProxy)

	var ext evidence.ExternalSource = evidence.NewWebSearch(evidence.WebSearchConfig{
		SerperAPIKey: cfg.Evidence.SerperAPIKey,
		WikipediaURL: cfg.Evidence.WikipediaURL,
		MaxResults:   cfg.Evidence.MaxExternal,
	}, client, limiter, log)

	if c != nil {
		ext = evidence.NewCachedExternalSource(ext, c, cfg.Evidence.CacheTTL, log)
	}
	return ext
}

// loadPrompts reads stage prompt overrides keyed by stage name
func loadPrompts(path string) (map[model.Stage]pipeline.PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var overrides map[model.Stage]pipeline.PromptTemplate
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return overrides, nil
}

// applyEnvKeys fills API keys left empty in config from the conventional
// provider environment variables.
func applyEnvKeys(cfg *model.Config) {
	for _, c := range []*model.LLMConfig{&cfg.Providers.FastClassifier, &cfg.Providers.Generator, &cfg.Providers.Frontier} {
		if c.APIKey == "" {
			c.APIKey = envAPIKey(c.Provider)
		}
		if strings.EqualFold(c.Provider, "ollama") && c.BaseURL == "" {
			c.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	if cfg.Evidence.SerperAPIKey == "" {
		cfg.Evidence.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	}
}

func envAPIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "openai", "azure":
		return os.Getenv("OPENAI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "labeler", "zentropi":
		return os.Getenv("ZENTROPI_API_KEY")
	default:
		return ""
	}
}
