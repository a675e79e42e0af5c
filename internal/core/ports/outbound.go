package ports

import (
	"context"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

// Embedder turns query text into a fixed-length vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs nearest-neighbor search over chunk embeddings and,
// for the hierarchical first tier, over document-summary embeddings.
type VectorIndex interface {
	SearchChunks(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.CandidateResult, error)
	SearchSummaries(ctx context.Context, queryVector []float32, limit int, collection string) ([]domain.DocumentHit, error)
}

// LexicalIndex performs full-text search over chunk content.
type LexicalIndex interface {
	Search(ctx context.Context, queryText string, limit int, filter domain.SearchFilter) ([]domain.CandidateResult, error)
}

// GraphStore traverses the knowledge graph. Traversal is seeded from the
// query text so it can run concurrently with base retrieval; each returned
// entity carries the chunk ids that support it.
type GraphStore interface {
	Related(ctx context.Context, queryText string, limit int) ([]domain.RelatedEntity, error)
}

// RerankDocument is one candidate handed to a rerank provider.
type RerankDocument struct {
	ID   string
	Text string
}

// RerankScore is a provider relevance score for the document at Index.
type RerankScore struct {
	Index int
	Score float64
}

// RerankProvider re-scores query/document pairs with a cross-encoder style
// model. Implementations are long-lived, stateless and concurrency-safe.
type RerankProvider interface {
	Name() string
	Rank(ctx context.Context, queryText string, documents []RerankDocument) ([]RerankScore, error)
}

// QueryRewriter generates reformulated phrasings of a query via an LLM.
type QueryRewriter interface {
	Rewrite(ctx context.Context, queryText string, kind domain.ReformulationKind, sessionContext string) ([]string, error)
}

// CacheStore is a keyed byte store with TTLs plus a key index used for
// delete-by-document invalidation. All mutations are single-key upserts.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	AddToIndex(ctx context.Context, indexKey, member string, ttl time.Duration) error
	IndexMembers(ctx context.Context, indexKey string) ([]string, error)
}

// MutationEvents delivers document mutation notifications that drive cache
// invalidation.
type MutationEvents interface {
	PublishDocumentMutated(ctx context.Context, documentID, action string) error
	SubscribeDocumentMutated(ctx context.Context, handler func(ctx context.Context, documentID, action string) error) error
}
