package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend is the embedded vector backend: pure Go, in-memory,
// zero external services. The default for development and tests.
type ChromemBackend struct {
	db         *chromem.DB
	collection string

	mu   sync.RWMutex
	col  *chromem.Collection
	docs map[string]Document
}

// NewChromemBackend creates an in-memory backend.
func NewChromemBackend(collection string) *ChromemBackend {
	return &ChromemBackend{
		db:         chromem.NewDB(),
		collection: collection,
		docs:       make(map[string]Document),
	}
}

func (b *ChromemBackend) getCollection() (*chromem.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.col != nil {
		return b.col, nil
	}
	// Embeddings are computed externally; the embedding func must
	// never be called.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embeddings are pre-computed")
	}
	col, err := b.db.GetOrCreateCollection(b.collection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("chromem collection %q: %w", b.collection, err)
	}
	b.col = col
	return col, nil
}

// Index stores documents with their embeddings.
func (b *ChromemBackend) Index(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d vs %d", len(docs), len(vectors))
	}
	col, err := b.getCollection()
	if err != nil {
		return err
	}

	entries := make([]chromem.Document, 0, len(docs))
	for i, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.PropertyID, err)
		}
		entries = append(entries, chromem.Document{
			ID:        doc.PropertyID,
			Content:   string(payload),
			Embedding: vectors[i],
		})
	}
	if err := col.AddDocuments(ctx, entries, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem upsert: %w", err)
	}

	b.mu.Lock()
	for _, doc := range docs {
		b.docs[doc.PropertyID] = doc
	}
	b.mu.Unlock()
	return nil
}

// Search queries by similarity. Chromem's native where-filter only does
// string equality, so range filters are applied after the query against
// an over-fetched candidate set.
func (b *ChromemBackend) Search(ctx context.Context, vector []float32, filters Filters, limit int) ([]Document, error) {
	col, err := b.getCollection()
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	total := len(b.docs)
	b.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering still fills the limit.
	fetch := limit * 4
	if filters.IsZero() {
		fetch = limit
	}
	if fetch > total {
		fetch = total
	}

	results, err := col.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]Document, 0, limit)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range results {
		doc, ok := b.docs[r.ID]
		if !ok || !filters.Matches(doc) {
			continue
		}
		doc.Score = float64(r.Similarity)
		doc.Source = SourceVector
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *ChromemBackend) Close() error { return nil }
