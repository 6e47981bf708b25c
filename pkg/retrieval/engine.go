package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/revaplatform/reva/pkg/breaker"
	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/observability"
)

// Embedder turns query text into vectors. The LLM gateway client
// satisfies this.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// ErrNotFound is returned by GetByID for unknown property ids.
var ErrNotFound = errors.New("property not found")

// Engine executes hybrid search: vector and keyword legs in one pass,
// fused by weighted reciprocal rank.
type Engine struct {
	embedder Embedder
	vector   VectorBackend
	keyword  *KeywordIndex
	cache    *Cache
	fusion   FusionParams
	brk      *breaker.Breaker
	metrics  *observability.Metrics
}

// NewEngine assembles the search core. cache and metrics may be nil.
func NewEngine(cfg config.RetrievalConfig, embedder Embedder, vector VectorBackend, cache *Cache, metrics *observability.Metrics) *Engine {
	return &Engine{
		embedder: embedder,
		vector:   vector,
		keyword:  NewKeywordIndex(),
		cache:    cache,
		fusion: FusionParams{
			K:             cfg.FusionK,
			VectorWeight:  cfg.VectorWeight,
			KeywordWeight: cfg.KeywordWeight,
		},
		brk:     breaker.New("vector-backend", cfg.Breaker.FailThreshold, cfg.Breaker.ResetTimeout()),
		metrics: metrics,
	}
}

// Seed indexes the corpus into both engines. Embeddings come from the
// gateway; if embedding fails the vector leg stays empty and search
// degrades to keyword-only until re-seeded.
func (e *Engine) Seed(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	e.keyword.Index(docs...)

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text()
	}
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("corpus embedding failed, vector leg unavailable", "documents", len(docs), "error", err)
		return nil
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}
	if err := e.vector.Index(ctx, docs, vectors); err != nil {
		return fmt.Errorf("seed vector backend: %w", err)
	}
	slog.Info("corpus indexed", "documents", len(docs))
	return nil
}

// Search runs the hybrid query. Embedding failure degrades to
// keyword-only; an open vector breaker does the same.
func (e *Engine) Search(ctx context.Context, query string, filters Filters, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()

	key := e.cache.Key(query, filters, limit)
	if cached := e.cache.Get(ctx, key); cached != nil {
		return cached, nil
	}

	keywordLeg := e.keyword.Search(query, filters, limit)

	vectorLeg, degraded := e.vectorSearch(ctx, query, filters, limit)

	result := &Result{
		Degraded: degraded,
		TookMS:   time.Since(start).Milliseconds(),
	}
	if degraded {
		// Keyword-only: scores are already ranked, just tag the source.
		result.Documents = keywordLeg
	} else {
		result.Documents = Fuse(vectorLeg, keywordLeg, e.fusion, limit)
	}
	result.Total = len(result.Documents)

	if e.metrics != nil {
		source := SourceFused
		if degraded {
			source = SourceKeyword
		}
		e.metrics.RecordRetrieval(context.WithoutCancel(ctx), source, time.Since(start))
	}

	e.cache.Set(ctx, key, result)
	return result, nil
}

// vectorSearch runs the vector leg behind the breaker. Any failure
// reports degraded rather than failing the search.
func (e *Engine) vectorSearch(ctx context.Context, query string, filters Filters, limit int) ([]Document, bool) {
	if err := e.brk.Allow(); err != nil {
		slog.Debug("vector backend breaker open, keyword-only search")
		return nil, true
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		// Embedding failure is not a backend failure; the breaker
		// only guards the vector engine.
		slog.Warn("query embedding failed, degrading to keyword-only", "error", err)
		return nil, true
	}

	docs, err := e.vector.Search(ctx, vectors[0], filters, limit)
	e.brk.Record(err)
	if err != nil {
		slog.Warn("vector search failed, degrading to keyword-only", "error", err)
		return nil, true
	}
	return docs, false
}

// GetByID returns the full stored document.
func (e *Engine) GetByID(id string) (Document, error) {
	doc, ok := e.keyword.Get(id)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

// Size reports the corpus size.
func (e *Engine) Size() int { return e.keyword.Len() }

// Close releases backend resources.
func (e *Engine) Close() error {
	var errs []error
	if e.vector != nil {
		errs = append(errs, e.vector.Close())
	}
	errs = append(errs, e.cache.Close())
	return errors.Join(errs...)
}
