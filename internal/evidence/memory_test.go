package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verdict/internal/model"
)

func TestMemorySource_Search(t *testing.T) {
	src := NewMemorySource([]Document{
		{ID: "doc-1", Text: "Measles vaccines do not cause autism, large cohort studies show.", Stance: "contradicting"},
		{ID: "doc-2", Text: "The central bank raised interest rates in March."},
		{ID: "doc-3", Text: "Vaccines are tested in clinical trials before approval.", Source: "who.int", Stance: "supports"},
	})

	items, err := src.Search(context.Background(), "Vaccines cause autism", 10)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "doc-1", items[0].Source)
	assert.Equal(t, model.StanceContradicting, items[0].Stance)
	assert.Equal(t, "who.int", items[1].Source)
	assert.Equal(t, model.StanceSupporting, items[1].Stance)
	assert.Greater(t, items[0].RelevanceScore, items[1].RelevanceScore)
	for _, item := range items {
		assert.Equal(t, model.OriginInternal, item.Origin)
		assert.LessOrEqual(t, item.RelevanceScore, 1.0)
	}
}

func TestMemorySource_TopK(t *testing.T) {
	src := NewMemorySource([]Document{
		{ID: "a", Text: "election fraud claims"},
		{ID: "b", Text: "election results certified"},
		{ID: "c", Text: "election day turnout"},
	})

	items, err := src.Search(context.Background(), "election", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMemorySource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemorySource(nil).Search(ctx, "anything", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, textSimilarity("The vaccine works", "vaccine works"), 1e-9)
	assert.Zero(t, textSimilarity("vaccine", "interest rates"))
	assert.Zero(t, textSimilarity("", "interest rates"))
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "corpus.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"id":"1","text":"hello world","source":"who.int","stance":"supporting"}]`), 0o644))
	docs, err := LoadCorpus(good)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "who.int", docs[0].Source)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[{"id":"1","text":"  "}]`), 0o644))
	_, err = LoadCorpus(empty)
	assert.Error(t, err)

	_, err = LoadCorpus(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
