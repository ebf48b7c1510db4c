package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/verdict/internal/model"
)

// Document is one entry of an internal evidence corpus
type Document struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Source        string `json:"source"`
	SourceQuality string `json:"source_quality,omitempty"`
	URL           string `json:"url,omitempty"`
	Stance        string `json:"stance,omitempty"`
}

// MemorySource is an in-process corpus ranked by term-vector cosine
// similarity. It backs tests and small deployments without a vector index.
type MemorySource struct {
	docs    []Document
	vectors []termVector
}

// NewMemorySource indexes the given documents
func NewMemorySource(docs []Document) *MemorySource {
	s := &MemorySource{docs: docs, vectors: make([]termVector, len(docs))}
	for i, d := range docs {
		s.vectors[i] = vectorize(d.Text)
	}
	return s
}

// LoadCorpus reads a JSON array of documents
func LoadCorpus(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("corpus %s: document %d has no text", path, i)
		}
	}
	return docs, nil
}

// Search returns up to topK documents by descending similarity
func (s *MemorySource) Search(ctx context.Context, query string, topK int) ([]model.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := vectorize(query)
	type hit struct {
		idx   int
		score float64
	}
	hits := make([]hit, 0, len(s.docs))
	for i, v := range s.vectors {
		if score := cosine(q, v); score > 0 {
			hits = append(hits, hit{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	items := make([]model.EvidenceItem, 0, len(hits))
	for _, h := range hits {
		d := s.docs[h.idx]
		source := d.Source
		if source == "" {
			source = d.ID
		}
		items = append(items, model.EvidenceItem{
			Text:           d.Text,
			Source:         source,
			SourceQuality:  d.SourceQuality,
			URL:            d.URL,
			RelevanceScore: h.score,
			Stance:         model.ParseStance(d.Stance),
			Origin:         model.OriginInternal,
		})
	}
	return items, nil
}

type termVector map[string]float64

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "will": true, "with": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func vectorize(text string) termVector {
	v := termVector{}
	for _, tok := range tokenize(text) {
		v[tok]++
	}
	return v
}

// cosine is in [0,1] for non-negative term counts
func cosine(a, b termVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for term, wa := range a {
		na += wa * wa
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		nb += wb * wb
	}
	if dot == 0 {
		return 0
	}
	return math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// textSimilarity scores how well a snippet matches a query
func textSimilarity(query, text string) float64 {
	return cosine(vectorize(query), vectorize(text))
}
