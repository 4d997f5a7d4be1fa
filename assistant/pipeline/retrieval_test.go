package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// stubSearcher serves canned snippets per category and records the queries
// it receives.
type stubSearcher struct {
	mu      sync.Mutex
	hits     map[string][]ports.Snippet
	errs     map[string]error
	count    int
	countErr error
	queries  []ports.SearchQuery
}

func (s *stubSearcher) Search(_ context.Context, q ports.SearchQuery) ([]ports.Snippet, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if err := s.errs[q.Category]; err != nil {
		return nil, err
	}
	return s.hits[q.Category], nil
}

func (s *stubSearcher) Count(_ context.Context, _ string) (int, error) {
	return s.count, s.countErr
}

func (s *stubSearcher) queried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := make([]string, 0, len(s.queries))
	for _, q := range s.queries {
		cats = append(cats, q.Category)
	}
	return cats
}

func snip(category, entity, text string, sim float32) ports.Snippet {
	return ports.Snippet{Category: category, EntityID: entity, Text: text, Similarity: sim}
}

func TestRetrieveContext_MergesAndRanks(t *testing.T) {
	searcher := &stubSearcher{hits: map[string][]ports.Snippet{
		CategoryProducts: {snip(CategoryProducts, "express-loan", "Express loan, 1.5-3.0% monthly", 0.91)},
		CategoryFAQ:      {snip(CategoryFAQ, "faq-12", "How to repay early", 0.72)},
		CategoryPolicies: {snip(CategoryPolicies, "pol-3", "Late payment policy", 0.95)},
	}}
	a := NewAugmentor(searcher, RetrievalConfig{}, nil)

	got := a.RetrieveContext(context.Background(), "loan repayment", "", RetrievalOptions{})

	require.Equal(t, 3, got.Count)
	assert.Equal(t, "pol-3", got.Contexts[0].EntityID)
	assert.Equal(t, "express-loan", got.Contexts[1].EntityID)
	assert.Equal(t, "faq-12", got.Contexts[2].EntityID)
	assert.Contains(t, got.FormattedContext, "[1] policies (95% match): Late payment policy")
}

func TestRetrieveContext_SkipsPersonalCategoriesWithoutRequester(t *testing.T) {
	searcher := &stubSearcher{hits: map[string][]ports.Snippet{}}
	a := NewAugmentor(searcher, RetrievalConfig{}, nil)

	a.RetrieveContext(context.Background(), "q", "", RetrievalOptions{})

	cats := searcher.queried()
	assert.ElementsMatch(t, []string{CategoryProducts, CategoryFAQ, CategoryPolicies}, cats)
}

func TestRetrieveContext_OwnerScopingOnlyForPersonalCategories(t *testing.T) {
	searcher := &stubSearcher{hits: map[string][]ports.Snippet{}}
	a := NewAugmentor(searcher, RetrievalConfig{}, nil)

	a.RetrieveContext(context.Background(), "q", "cust-77", RetrievalOptions{})

	searcher.mu.Lock()
	defer searcher.mu.Unlock()
	require.Len(t, searcher.queries, 5)
	for _, q := range searcher.queries {
		if personalCategories[q.Category] {
			assert.Equal(t, "cust-77", q.RequesterID, "category %s", q.Category)
		} else {
			assert.Empty(t, q.RequesterID, "category %s", q.Category)
		}
	}
}

func TestRetrieveContext_AllCategoriesFailDegradesToEmpty(t *testing.T) {
	searcher := &stubSearcher{errs: map[string]error{
		CategoryProducts: errors.New("index offline"),
		CategoryFAQ:      errors.New("index offline"),
		CategoryPolicies: errors.New("index offline"),
	}}
	tracer := &recordingTracer{}
	a := NewAugmentor(searcher, RetrievalConfig{}, tracer)

	got := a.RetrieveContext(context.Background(), "q", "", RetrievalOptions{})

	assert.Zero(t, got.Count)
	assert.Empty(t, got.FormattedContext)
	assert.Equal(t, 3, countOf(tracer.names(), "retrieval_degraded"))
}

func TestRetrieveContext_PartialFailureKeepsOtherCategories(t *testing.T) {
	searcher := &stubSearcher{
		hits: map[string][]ports.Snippet{
			CategoryFAQ: {snip(CategoryFAQ, "faq-1", "Fees explained", 0.8)},
		},
		errs: map[string]error{CategoryProducts: errors.New("boom")},
	}
	tracer := &recordingTracer{}
	a := NewAugmentor(searcher, RetrievalConfig{}, tracer)

	got := a.RetrieveContext(context.Background(), "fees", "", RetrievalOptions{})

	require.Equal(t, 1, got.Count)
	assert.Equal(t, "faq-1", got.Contexts[0].EntityID)
	assert.Contains(t, tracer.names(), "retrieval_degraded")
}

func TestRetrieveContext_TruncatesToMaxResults(t *testing.T) {
	hits := make([]ports.Snippet, 8)
	for i := range hits {
		hits[i] = snip(CategoryFAQ, string(rune('a'+i)), "t", float32(0.70)+float32(i)*0.01)
	}
	searcher := &stubSearcher{hits: map[string][]ports.Snippet{CategoryFAQ: hits}}
	a := NewAugmentor(searcher, RetrievalConfig{}, nil)

	got := a.RetrieveContext(context.Background(), "q", "", RetrievalOptions{Categories: []string{CategoryFAQ}, MaxResults: 3})

	require.Equal(t, 3, got.Count)
	assert.Equal(t, "h", got.Contexts[0].EntityID)
}

func TestDedupeSnippets_KeepsHighestSimilarity(t *testing.T) {
	in := []ports.Snippet{
		snip(CategoryFAQ, "dup", "v1", 0.70),
		snip(CategoryFAQ, "other", "x", 0.75),
		snip(CategoryFAQ, "dup", "v2", 0.90),
		snip(CategoryPolicies, "dup", "same id, different category", 0.60),
	}
	out := dedupeSnippets(in)

	require.Len(t, out, 3)
	assert.Equal(t, "v2", out[0].Text)
	assert.Equal(t, float32(0.90), out[0].Similarity)
}

func TestFormatContext_MetadataRenderedSorted(t *testing.T) {
	s := snip(CategoryProducts, "sme-loan", "SME loan overview", 0.8)
	s.Metadata = map[string]string{"term": "12m", "currency": "USD"}

	out := FormatContext([]ports.Snippet{s})
	assert.Contains(t, out, "[1] products (80% match): SME loan overview")
	assert.Contains(t, out, "currency=USD; term=12m")
}

func TestFormatContext_EmptyInput(t *testing.T) {
	assert.Empty(t, FormatContext(nil))
}

func TestBuildEnhancedPrompt(t *testing.T) {
	base := "You are Dara."
	assert.Equal(t, base, BuildEnhancedPrompt(base, ""))

	enhanced := BuildEnhancedPrompt(base, "[1] faq (80% match): fees")
	assert.Contains(t, enhanced, base)
	assert.Contains(t, enhanced, "## Relevant DaraPay knowledge")
	assert.Contains(t, enhanced, "not available instead of guessing")
}

func TestIsAvailable(t *testing.T) {
	a := NewAugmentor(&stubSearcher{count: 3}, RetrievalConfig{}, nil)
	assert.True(t, a.IsAvailable(context.Background(), CategoryFAQ))

	a = NewAugmentor(&stubSearcher{count: 0}, RetrievalConfig{}, nil)
	assert.False(t, a.IsAvailable(context.Background(), CategoryFAQ))

	tracer := &recordingTracer{}
	a = NewAugmentor(&stubSearcher{countErr: errors.New("down")}, RetrievalConfig{}, tracer)
	assert.False(t, a.IsAvailable(context.Background(), CategoryFAQ))
	assert.Contains(t, tracer.names(), "retrieval_degraded")
}

func countOf(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}
