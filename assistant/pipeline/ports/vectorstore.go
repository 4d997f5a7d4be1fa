package pipelineports

import "context"

// Snippet is a retrieved knowledge-base chunk with provenance.
type Snippet struct {
	Category   string
	EntityID   string
	Text       string
	Metadata   map[string]string
	Similarity float32 // cosine similarity in [0, 1]
}

// SearchQuery scopes a nearest-neighbor lookup to one knowledge category.
// RequesterID lets the store restrict personal-data categories to the
// requester's own rows; it is empty for shared categories.
type SearchQuery struct {
	Text        string
	Category    string
	Limit       int
	Threshold   float32
	RequesterID string
}

// VectorSearcher is the similarity-search collaborator backing retrieval
// augmentation.
type VectorSearcher interface {
	Search(ctx context.Context, q SearchQuery) ([]Snippet, error)
	// Count reports how many rows exist, optionally filtered by category.
	// Used as a cheap availability probe.
	Count(ctx context.Context, category string) (int, error)
}
