package retrieval

import "context"

// VectorBackend is the similarity search engine behind the gateway.
// Implementations: embedded chromem (default) and remote qdrant.
type VectorBackend interface {
	// Index stores documents with their pre-computed embeddings,
	// one vector per document.
	Index(ctx context.Context, docs []Document, vectors [][]float32) error

	// Search returns up to limit documents by similarity, filtered,
	// best first, with Source set to "vector".
	Search(ctx context.Context, vector []float32, filters Filters, limit int) ([]Document, error)

	Close() error
}
