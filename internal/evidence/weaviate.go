package evidence

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ppiankov/verdict/internal/model"
)

// WeaviateConfig locates the vector index holding the evidence corpus
type WeaviateConfig struct {
	Host   string // host:port
	Scheme string // http or https
	Class  string // collection holding evidence documents
}

// WeaviateSource searches the evidence corpus with nearText queries.
// Each object is expected to carry text, source, sourceQuality, url and stance.
type WeaviateSource struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateSource connects to a Weaviate instance
func NewWeaviateSource(cfg WeaviateConfig) (*WeaviateSource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Class == "" {
		cfg.Class = "Evidence"
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateSource{client: client, class: cfg.Class}, nil
}

// Search runs a semantic query and converts hits to evidence items
func (s *WeaviateSource) Search(ctx context.Context, query string, topK int) ([]model.EvidenceItem, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "sourceQuality"},
		{Name: "url"},
		{Name: "stance"},
		{Name: "_additional { id certainty distance }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	return parseWeaviateResult(result, s.class), nil
}

func parseWeaviateResult(result *models.GraphQLResponse, class string) []model.EvidenceItem {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}

	items := make([]model.EvidenceItem, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		text := getString(m, "text")
		if text == "" {
			continue
		}

		var relevance float64
		source := getString(m, "source")
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				relevance = certainty
			} else if distance, ok := additional["distance"].(float64); ok {
				relevance = 1 - distance
			}
			if source == "" {
				source = getString(additional, "id")
			}
		}

		items = append(items, model.EvidenceItem{
			Text:           text,
			Source:         source,
			SourceQuality:  getString(m, "sourceQuality"),
			URL:            getString(m, "url"),
			RelevanceScore: clamp01(relevance),
			Stance:         model.ParseStance(getString(m, "stance")),
			Origin:         model.OriginInternal,
		})
	}
	return items
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
