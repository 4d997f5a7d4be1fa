package adapters

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

const knowledgeCollection = "knowledge"

// Reserved metadata keys on stored documents.
const (
	metaCategory = "category"
	metaEntityID = "entity_id"
	metaOwnerID  = "owner_id"
)

// KnowledgeDoc is one ingestible knowledge-base snippet.
type KnowledgeDoc struct {
	ID       string
	Category string
	EntityID string
	Text     string
	OwnerID  string // set for personal-data categories only
	Metadata map[string]string
}

// ChromemStore implements the VectorSearcher port using chromem-go, an
// embedded vector database. Personal-data rows carry an owner ID and are
// only returned to their owner.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection

	mu             sync.RWMutex
	categoryCounts map[string]int
}

// NewChromemStore creates an in-memory store. persistDir enables on-disk
// persistence when non-empty. The embedding function is supplied by the
// caller; chromem defaults to OpenAI embeddings when nil.
func NewChromemStore(persistDir string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if persistDir != "" {
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(knowledgeCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemStore{
		db:             db,
		collection:     col,
		categoryCounts: make(map[string]int),
	}, nil
}

// AddDocuments ingests snippets into the knowledge base.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []KnowledgeDoc) error {
	if len(docs) == 0 {
		return nil
	}

	chromDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		meta := map[string]string{
			metaCategory: doc.Category,
			metaEntityID: doc.EntityID,
		}
		if doc.OwnerID != "" {
			meta[metaOwnerID] = doc.OwnerID
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		chromDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Text,
			Metadata: meta,
		}
	}

	if err := s.collection.AddDocuments(ctx, chromDocs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	s.mu.Lock()
	for _, doc := range docs {
		s.categoryCounts[doc.Category]++
	}
	s.mu.Unlock()
	return nil
}

// Search performs nearest-neighbor lookup within one category, scoped to the
// requester for owned rows.
func (s *ChromemStore) Search(ctx context.Context, q ports.SearchQuery) ([]ports.Snippet, error) {
	s.mu.RLock()
	available := s.categoryCounts[q.Category]
	s.mu.RUnlock()
	if available == 0 {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 || limit > available {
		limit = available
	}

	where := map[string]string{metaCategory: q.Category}
	if q.RequesterID != "" {
		where[metaOwnerID] = q.RequesterID
	}

	results, err := s.collection.Query(ctx, q.Text, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	snippets := make([]ports.Snippet, 0, len(results))
	for _, r := range results {
		if r.Similarity < q.Threshold {
			continue
		}
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k == metaCategory || k == metaEntityID || k == metaOwnerID {
				continue
			}
			meta[k] = v
		}
		snippets = append(snippets, ports.Snippet{
			Category:   q.Category,
			EntityID:   r.Metadata[metaEntityID],
			Text:       r.Content,
			Metadata:   meta,
			Similarity: r.Similarity,
		})
	}
	return snippets, nil
}

// Count reports stored rows, optionally per category.
func (s *ChromemStore) Count(ctx context.Context, category string) (int, error) {
	if category == "" {
		return s.collection.Count(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoryCounts[category], nil
}

// Ensure ChromemStore implements the VectorSearcher interface.
var _ ports.VectorSearcher = (*ChromemStore)(nil)
