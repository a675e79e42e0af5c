package ports

import (
	"context"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

// Retriever is the single inbound contract of the engine, consumed by the
// HTTP adapter and any completion layer above it.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.Query) (*domain.RetrievalResponse, error)
}

// CacheInvalidator is the inbound contract for document-mutation driven
// cache invalidation, consumed by the worker.
type CacheInvalidator interface {
	InvalidateDocument(ctx context.Context, documentID string) error
}
