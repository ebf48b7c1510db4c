package evidence

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/metrics"
	"github.com/ppiankov/verdict/internal/model"
)

// Router decides per claim whether internal evidence suffices or the open
// web must be consulted, based on how novel the claim looks to the corpus.
type Router struct {
	internal Source
	external ExternalSource
	cfg      model.RoutingConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithLogger sets the router logger
func WithLogger(log *zap.Logger) RouterOption {
	return func(r *Router) { r.log = logging.OrNop(log) }
}

// WithMetrics sets the router metrics
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter builds a router. external may be nil when external search is not allowed.
func NewRouter(cfg model.RoutingConfig, internal Source, external ExternalSource, opts ...RouterOption) (*Router, error) {
	if internal == nil {
		return nil, &model.ConfigurationError{Field: "evidence.source", Reason: "internal evidence source is required"}
	}
	if cfg.ExternalSearchAllowed && external == nil {
		return nil, &model.ConfigurationError{Field: "external_search_allowed", Reason: "no external evidence source is bound"}
	}

	r := &Router{
		internal: internal,
		external: external,
		cfg:      cfg,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve gathers evidence for one claim. Low-tier claims return an empty
// result without touching any source.
func (r *Router) Retrieve(ctx context.Context, claimText string, tier model.RiskTier) (model.ClaimEvidence, error) {
	var out model.ClaimEvidence
	if !tier.Elevated() {
		return out, nil
	}

	internal, err := r.searchInternal(ctx, claimText)
	if err != nil {
		return out, err
	}

	novelty := 1.0
	if len(internal) > 0 {
		novelty = 1 - internal[0].RelevanceScore
	}
	out.NoveltyScore = novelty
	out.Items = internal

	if !r.cfg.ExternalSearchAllowed || (novelty <= r.cfg.NoveltySimilarityThreshold && len(internal) > 0) {
		return out, nil
	}

	out.ExternalQueried = true
	external, err := r.searchExternal(ctx, claimText)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		r.metrics.IncrementExternalSearch("error")
		r.log.Warn("external evidence search failed, keeping internal evidence",
			zap.String("claim", claimText),
			zap.Error(err))
		return out, nil
	}
	r.metrics.IncrementExternalSearch("ok")

	out.Items = append(out.Items, external...)
	return out, nil
}

// RetrieveAll retrieves evidence for every claim with bounded concurrency.
// The result is indexed like claims.
func (r *Router) RetrieveAll(ctx context.Context, claims []model.Claim, tier model.RiskTier) ([]model.ClaimEvidence, error) {
	results := make([]model.ClaimEvidence, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.EvidenceConcurrency)
	for i, claim := range claims {
		g.Go(func() error {
			ce, err := r.Retrieve(gctx, claim.Text, tier)
			if err != nil {
				return fmt.Errorf("claim %d: %w", i, err)
			}
			ce.ClaimIndex = i
			results[i] = ce
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Router) searchInternal(ctx context.Context, query string) ([]model.EvidenceItem, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	items, err := r.internal.Search(ctx, query, r.cfg.EvidenceTopK)
	if err != nil {
		return nil, fmt.Errorf("internal evidence search: %w", err)
	}

	retained := make([]model.EvidenceItem, 0, len(items))
	for _, item := range items {
		item.RelevanceScore = clamp01(item.RelevanceScore)
		if item.RelevanceScore < r.cfg.EvidenceSimilarityCutoff {
			continue
		}
		item.Origin = model.OriginInternal
		retained = append(retained, item)
	}
	sortByRelevance(retained)
	if len(retained) > r.cfg.EvidenceTopK {
		retained = retained[:r.cfg.EvidenceTopK]
	}
	return retained, nil
}

func (r *Router) searchExternal(ctx context.Context, query string) ([]model.EvidenceItem, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	items, err := r.external.Search(ctx, query, r.cfg.ExternalAllowlist)
	if err != nil {
		return nil, fmt.Errorf("external evidence search: %w", err)
	}

	kept := make([]model.EvidenceItem, 0, len(items))
	for _, item := range items {
		if item.URL != "" && !HostAllowed(item.URL, r.cfg.ExternalAllowlist) {
			r.log.Debug("dropping external evidence outside allowlist", zap.String("url", item.URL))
			continue
		}
		item.RelevanceScore = clamp01(item.RelevanceScore)
		item.Origin = model.OriginExternal
		kept = append(kept, item)
	}
	sortByRelevance(kept)
	return kept, nil
}

func (r *Router) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := r.cfg.Timeout(model.StageEvidenceRetrieval); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func sortByRelevance(items []model.EvidenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RelevanceScore > items[j].RelevanceScore
	})
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
