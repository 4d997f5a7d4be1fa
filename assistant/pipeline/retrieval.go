package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// Knowledge-base categories of the DaraPay super-app.
const (
	CategoryProducts     = "products"
	CategoryFAQ          = "faq"
	CategoryPolicies     = "policies"
	CategoryTransactions = "transactions"
	CategoryAccounts     = "accounts"
)

// AllCategories is the default search scope.
var AllCategories = []string{
	CategoryProducts, CategoryFAQ, CategoryPolicies,
	CategoryTransactions, CategoryAccounts,
}

// personalCategories hold per-customer rows; searching them requires a
// requester ID so the store can scope results to the requester's own data.
var personalCategories = map[string]bool{
	CategoryTransactions: true,
	CategoryAccounts:     true,
}

// RetrievalConfig bounds a retrieval pass.
type RetrievalConfig struct {
	MaxResults          int     // result cap after merging (default: 5)
	SimilarityThreshold float32 // minimum similarity (default: 0.65)
}

// DefaultRetrievalConfig returns sensible defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{MaxResults: 5, SimilarityThreshold: 0.65}
}

// RetrievalOptions override the configured bounds per call.
type RetrievalOptions struct {
	Categories          []string
	MaxResults          int
	SimilarityThreshold float32
}

// Retrieval is the merged, ranked outcome of one retrieval pass.
type Retrieval struct {
	Contexts         []ports.Snippet
	FormattedContext string
	Count            int
}

// Augmentor grounds generation with facts pulled from the vector-indexed
// knowledge store. A failure in one category is logged and skipped: overall
// retrieval degrades rather than failing.
type Augmentor struct {
	searcher ports.VectorSearcher
	tracer   ports.Tracer
	cfg      RetrievalConfig
}

// NewAugmentor creates an augmentor over the searcher collaborator.
func NewAugmentor(searcher ports.VectorSearcher, cfg RetrievalConfig, tracer ports.Tracer) *Augmentor {
	def := DefaultRetrievalConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if tracer == nil {
		tracer = NopTracer{}
	}
	return &Augmentor{searcher: searcher, cfg: cfg, tracer: tracer}
}

// RetrieveContext queries each requested category concurrently, merges the
// hits, deduplicates across categories, sorts by similarity descending and
// truncates to the result cap. Personal categories are skipped entirely when
// no requester ID is given.
func (a *Augmentor) RetrieveContext(ctx context.Context, query, requesterID string, opts RetrievalOptions) Retrieval {
	categories := opts.Categories
	if len(categories) == 0 {
		categories = AllCategories
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = a.cfg.MaxResults
	}
	threshold := opts.SimilarityThreshold
	if threshold <= 0 {
		threshold = a.cfg.SimilarityThreshold
	}

	var (
		mu     sync.Mutex
		merged []ports.Snippet
		wg     conc.WaitGroup
	)
	for _, category := range categories {
		if personalCategories[category] && requesterID == "" {
			continue
		}
		// Owner scoping applies to personal categories only; shared
		// categories are queried without a requester restriction.
		owner := ""
		if personalCategories[category] {
			owner = requesterID
		}
		wg.Go(func() {
			hits, err := a.searcher.Search(ctx, ports.SearchQuery{
				Text:        query,
				Category:    category,
				Limit:       maxResults,
				Threshold:   threshold,
				RequesterID: owner,
			})
			if err != nil {
				a.tracer.Event(ctx, "retrieval_degraded", map[string]any{
					"category": category,
					"error":    err.Error(),
				})
				return
			}
			mu.Lock()
			merged = append(merged, hits...)
			mu.Unlock()
		})
	}
	wg.Wait()

	merged = dedupeSnippets(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}

	return Retrieval{
		Contexts:         merged,
		FormattedContext: FormatContext(merged),
		Count:            len(merged),
	}
}

// IsAvailable is a cheap existence probe: whether the store holds any rows,
// optionally restricted to one category. Callers use it to decide whether
// retrieval is worth attempting at all.
func (a *Augmentor) IsAvailable(ctx context.Context, category string) bool {
	n, err := a.searcher.Count(ctx, category)
	if err != nil {
		a.tracer.Event(ctx, "retrieval_degraded", map[string]any{
			"category": category,
			"error":    err.Error(),
		})
		return false
	}
	return n > 0
}

// dedupeSnippets removes duplicates across categories, keeping the highest
// similarity per category/entity pair.
func dedupeSnippets(snips []ports.Snippet) []ports.Snippet {
	best := make(map[string]int, len(snips))
	out := snips[:0]
	for _, s := range snips {
		key := s.Category + "\x00" + s.EntityID
		if i, ok := best[key]; ok {
			if s.Similarity > out[i].Similarity {
				out[i] = s
			}
			continue
		}
		best[key] = len(out)
		out = append(out, s)
	}
	return out
}

// FormatContext renders a numbered, human-readable block per snippet.
func FormatContext(snips []ports.Snippet) string {
	if len(snips) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range snips {
		fmt.Fprintf(&b, "[%d] %s (%.0f%% match): %s\n", i+1, s.Category, s.Similarity*100, s.Text)
		if len(s.Metadata) > 0 {
			keys := make([]string, 0, len(s.Metadata))
			for k := range s.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, k+"="+s.Metadata[k])
			}
			fmt.Fprintf(&b, "    %s\n", strings.Join(pairs, "; "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// groundingInstructions steer the model toward the retrieved facts.
const groundingInstructions = "Answer using the DaraPay knowledge above whenever it is relevant. " +
	"If the knowledge does not cover the question, say the information is not available instead of guessing."

// BuildEnhancedPrompt appends the formatted context block plus grounding
// instructions to the base prompt. An empty context returns the base prompt
// unchanged.
func BuildEnhancedPrompt(basePrompt, formattedContext string) string {
	if formattedContext == "" {
		return basePrompt
	}
	return basePrompt + "\n\n## Relevant DaraPay knowledge\n" + formattedContext + "\n\n" + groundingInstructions
}
