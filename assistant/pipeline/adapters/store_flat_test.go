package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// mapEmbed returns canned vectors per exact text, so similarities in tests
// are fully deterministic.
func mapEmbed(vecs map[string][]float64) EmbedFunc {
	return func(_ context.Context, text string) ([]float64, error) {
		v, ok := vecs[text]
		if !ok {
			return nil, errors.New("no vector for: " + text)
		}
		return v, nil
	}
}

func testSnippet(category, entity, text string) ports.Snippet {
	return ports.Snippet{Category: category, EntityID: entity, Text: text}
}

func TestFlatStore_SearchRanksByCosine(t *testing.T) {
	embed := mapEmbed(map[string][]float64{
		"express loan terms":  {1, 0, 0},
		"loan fees explained": {0.9, 0.1, 0},
		"wallet top-up guide": {0, 1, 0},
		"loan query":          {1, 0, 0},
	})
	store := NewFlatStore(embed, 3)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, testSnippet("products", "p1", "express loan terms"), ""))
	require.NoError(t, store.Add(ctx, testSnippet("products", "p2", "loan fees explained"), ""))
	require.NoError(t, store.Add(ctx, testSnippet("faq", "f1", "wallet top-up guide"), ""))

	hits, err := store.Search(ctx, ports.SearchQuery{Text: "loan query", Category: "products", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p1", hits[0].EntityID)
	assert.InDelta(t, 1.0, float64(hits[0].Similarity), 1e-6)
	assert.Equal(t, "p2", hits[1].EntityID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestFlatStore_ThresholdExcludesDissimilar(t *testing.T) {
	embed := mapEmbed(map[string][]float64{
		"doc": {0, 1, 0},
		"q":   {1, 0, 0},
	})
	store := NewFlatStore(embed, 3)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, testSnippet("faq", "f1", "doc"), ""))

	hits, err := store.Search(ctx, ports.SearchQuery{Text: "q", Category: "faq", Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFlatStore_OwnerScoping(t *testing.T) {
	embed := mapEmbed(map[string][]float64{
		"tx of u1": {1, 0, 0},
		"tx of u2": {1, 0, 0},
		"q":        {1, 0, 0},
	})
	store := NewFlatStore(embed, 3)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, testSnippet("transactions", "t1", "tx of u1"), "u1"))
	require.NoError(t, store.Add(ctx, testSnippet("transactions", "t2", "tx of u2"), "u2"))

	hits, err := store.Search(ctx, ports.SearchQuery{Text: "q", Category: "transactions", Threshold: 0.5, RequesterID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t1", hits[0].EntityID)
}

func TestFlatStore_LimitCapsResults(t *testing.T) {
	vecs := map[string][]float64{"q": {1, 0, 0}}
	texts := []string{"a", "b", "c", "d"}
	for _, s := range texts {
		vecs[s] = []float64{1, 0, 0}
	}
	store := NewFlatStore(mapEmbed(vecs), 3)
	ctx := context.Background()
	for _, s := range texts {
		require.NoError(t, store.Add(ctx, testSnippet("faq", s, s), ""))
	}

	hits, err := store.Search(ctx, ports.SearchQuery{Text: "q", Category: "faq", Threshold: 0.5, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestFlatStore_DimensionMismatch(t *testing.T) {
	embed := mapEmbed(map[string][]float64{"short": {1, 0}})
	store := NewFlatStore(embed, 3)

	err := store.Add(context.Background(), testSnippet("faq", "f1", "short"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")

	_, err = store.Search(context.Background(), ports.SearchQuery{Text: "short", Category: "faq"})
	require.Error(t, err)
}

func TestFlatStore_EmbedErrorPropagates(t *testing.T) {
	store := NewFlatStore(mapEmbed(nil), 3)

	err := store.Add(context.Background(), testSnippet("faq", "f1", "anything"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed")
}

func TestFlatStore_Count(t *testing.T) {
	embed := mapEmbed(map[string][]float64{
		"x": {1, 0, 0},
		"y": {0, 1, 0},
	})
	store := NewFlatStore(embed, 3)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, testSnippet("faq", "f1", "x"), ""))
	require.NoError(t, store.Add(ctx, testSnippet("products", "p1", "y"), ""))

	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	faq, err := store.Count(ctx, "faq")
	require.NoError(t, err)
	assert.Equal(t, 1, faq)

	none, err := store.Count(ctx, "policies")
	require.NoError(t, err)
	assert.Zero(t, none)
}
