package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

// CacheTTLs holds the per-namespace expiry policy. Embeddings are stable and
// long-lived; search results and reformulations depend on moving inputs and
// expire sooner.
type CacheTTLs struct {
	Embeddings     time.Duration
	SearchResults  time.Duration
	Reformulations time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Embeddings:     24 * time.Hour,
		SearchResults:  time.Hour,
		Reformulations: 15 * time.Minute,
	}
}

func (t CacheTTLs) normalize() CacheTTLs {
	def := DefaultCacheTTLs()
	if t.Embeddings <= 0 {
		t.Embeddings = def.Embeddings
	}
	if t.SearchResults <= 0 {
		t.SearchResults = def.SearchResults
	}
	if t.Reformulations <= 0 {
		t.Reformulations = def.Reformulations
	}
	return t
}

// engineCache fronts the cache store for the request path. Every operation
// absorbs store errors: an outage degrades to direct computation and must
// never fail the request.
type engineCache struct {
	store ports.CacheStore
	ttls  CacheTTLs
}

func newEngineCache(store ports.CacheStore, ttls CacheTTLs) *engineCache {
	return &engineCache{store: store, ttls: ttls.normalize()}
}

func (c *engineCache) getSearch(ctx context.Context, key string) ([]domain.CandidateResult, bool) {
	var out []domain.CandidateResult
	if !c.getJSON(ctx, key, &out) {
		return nil, false
	}
	return out, true
}

// setSearch stores a backend result set and indexes the key under every
// contributing document so a document mutation can invalidate it later.
func (c *engineCache) setSearch(ctx context.Context, key string, results []domain.CandidateResult) {
	if !c.setJSON(ctx, key, results, c.ttls.SearchResults) {
		return
	}

	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.DocumentID == "" {
			continue
		}
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		if err := c.store.AddToIndex(ctx, documentIndexKey(r.DocumentID), key, c.ttls.SearchResults); err != nil {
			slog.Warn("cache_index_error", "key", key, "document_id", r.DocumentID, "error", err)
		}
	}
}

func (c *engineCache) getVariants(ctx context.Context, key string) ([]domain.QueryVariant, bool) {
	var out []domain.QueryVariant
	if !c.getJSON(ctx, key, &out) || len(out) == 0 {
		return nil, false
	}
	return out, true
}

func (c *engineCache) setVariants(ctx context.Context, key string, variants []domain.QueryVariant) {
	c.setJSON(ctx, key, variants, c.ttls.Reformulations)
}

func (c *engineCache) getEmbedding(ctx context.Context, key string) ([]float32, bool) {
	var out []float32
	if !c.getJSON(ctx, key, &out) || len(out) == 0 {
		return nil, false
	}
	return out, true
}

func (c *engineCache) setEmbedding(ctx context.Context, key string, vector []float32) {
	c.setJSON(ctx, key, vector, c.ttls.Embeddings)
}

// invalidateDocument removes every cached search result that embedded a
// chunk of the given document. Unlike the read path this reports store
// errors, so the worker can log and retry.
func (c *engineCache) invalidateDocument(ctx context.Context, documentID string) error {
	if c.store == nil {
		return nil
	}
	indexKey := documentIndexKey(documentID)
	members, err := c.store.IndexMembers(ctx, indexKey)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "list cached keys for document", err)
	}
	if len(members) > 0 {
		if err := c.store.Delete(ctx, members...); err != nil {
			return domain.WrapError(domain.ErrTemporary, "delete cached search results", err)
		}
	}
	if err := c.store.Delete(ctx, indexKey); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete document key index", err)
	}
	return nil
}

func (c *engineCache) getJSON(ctx context.Context, key string, out any) bool {
	if c.store == nil {
		return false
	}
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("cache_read_error", "key", key, "error", err)
		}
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("cache_decode_error", "key", key, "error", err)
		return false
	}
	return true
}

func (c *engineCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if c.store == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache_encode_error", "key", key, "error", err)
		return false
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("cache_write_error", "key", key, "error", err)
		}
		return false
	}
	return true
}

// InvalidationUseCase exposes delete-by-document cache invalidation to the
// mutation-event worker.
type InvalidationUseCase struct {
	cache *engineCache
}

func NewInvalidationUseCase(store ports.CacheStore, ttls CacheTTLs) *InvalidationUseCase {
	return &InvalidationUseCase{cache: newEngineCache(store, ttls)}
}

func (uc *InvalidationUseCase) InvalidateDocument(ctx context.Context, documentID string) error {
	return uc.cache.invalidateDocument(ctx, documentID)
}
