package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// EmbedFunc turns text into a dense vector.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// flatEntry is one stored vector with its snippet payload.
type flatEntry struct {
	snippet ports.Snippet
	ownerID string
	vector  []float64
}

// FlatStore implements VectorSearcher with brute-force cosine search over an
// in-memory slice. It is the baseline implementation, used in tests and
// small deployments where an embedded vector database is overkill.
type FlatStore struct {
	mu        sync.RWMutex
	embed     EmbedFunc
	dimension int
	entries   []flatEntry
}

// NewFlatStore creates an empty flat store over the given embedder.
func NewFlatStore(embed EmbedFunc, dimension int) *FlatStore {
	return &FlatStore{embed: embed, dimension: dimension}
}

// Add ingests one snippet. ownerID is empty for shared categories.
func (f *FlatStore) Add(ctx context.Context, snippet ports.Snippet, ownerID string) error {
	vec, err := f.embed(ctx, snippet.Text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vec) != f.dimension {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", f.dimension, len(vec))
	}
	f.mu.Lock()
	f.entries = append(f.entries, flatEntry{snippet: snippet, ownerID: ownerID, vector: vec})
	f.mu.Unlock()
	return nil
}

// Search performs k-NN lookup using brute-force cosine similarity.
func (f *FlatStore) Search(ctx context.Context, q ports.SearchQuery) ([]ports.Snippet, error) {
	queryVec, err := f.embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(queryVec) != f.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", f.dimension, len(queryVec))
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var hits []ports.Snippet
	for _, e := range f.entries {
		if e.snippet.Category != q.Category {
			continue
		}
		if q.RequesterID != "" && e.ownerID != q.RequesterID {
			continue
		}
		sim := cosine(queryVec, e.vector)
		if sim < float64(q.Threshold) {
			continue
		}
		s := e.snippet
		s.Similarity = float32(sim)
		hits = append(hits, s)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// Count reports stored rows, optionally per category.
func (f *FlatStore) Count(ctx context.Context, category string) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if category == "" {
		return len(f.entries), nil
	}
	n := 0
	for _, e := range f.entries {
		if e.snippet.Category == category {
			n++
		}
	}
	return n, nil
}

// cosine returns the cosine similarity of two equal-length vectors.
func cosine(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Ensure FlatStore implements the VectorSearcher interface.
var _ ports.VectorSearcher = (*FlatStore)(nil)
