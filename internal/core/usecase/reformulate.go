package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

// reformulator runs the query-reformulation stage. Reformulation is a
// quality enhancement: any rewriter failure falls back to the original query
// and raises the degradation flag instead of blocking retrieval.
type reformulator struct {
	rewriter   ports.QueryRewriter
	cache      *engineCache
	kind       domain.ReformulationKind
	multiCount int
	timeout    time.Duration
}

func newReformulator(rewriter ports.QueryRewriter, cache *engineCache, limits domain.RetrievalLimits) *reformulator {
	return &reformulator{
		rewriter:   rewriter,
		cache:      cache,
		kind:       limits.Reformulation,
		multiCount: limits.MultiQueryCount,
		timeout:    limits.ProviderTimeout,
	}
}

// reformulate returns a non-empty variant list and a degradation flag. The
// list has length one unless the configured kind requests expansion or
// multi-query branching.
func (r *reformulator) reformulate(ctx context.Context, q domain.Query) ([]domain.QueryVariant, bool) {
	passthrough := []domain.QueryVariant{{
		OriginID: q.ID,
		Text:     q.Text,
		Kind:     domain.ReformulationNone,
	}}

	if r.rewriter == nil || r.kind == "" || r.kind == domain.ReformulationNone {
		return passthrough, false
	}

	key := reformulationCacheKey(q.Text, r.kind, q.SessionContext)
	if cached, ok := r.cache.getVariants(ctx, key); ok {
		return rebindOrigin(cached, q.ID), false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	texts, err := r.rewriter.Rewrite(callCtx, q.Text, r.kind, q.SessionContext)
	if err != nil {
		slog.Warn("reformulation_degraded", "query_id", q.ID, "kind", r.kind, "error", err)
		return passthrough, true
	}

	variants := r.assemble(q, texts)
	if len(variants) == 0 {
		slog.Warn("reformulation_degraded", "query_id", q.ID, "kind", r.kind, "error", "rewriter returned no usable variants")
		return passthrough, true
	}

	r.cache.setVariants(ctx, key, variants)
	return variants, false
}

func (r *reformulator) assemble(q domain.Query, texts []string) []domain.QueryVariant {
	cleaned := make([]string, 0, len(texts))
	seen := map[string]struct{}{}
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(t)]; ok {
			continue
		}
		seen[strings.ToLower(t)] = struct{}{}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return nil
	}

	switch r.kind {
	case domain.ReformulationClarify:
		// A clarified query replaces the original phrasing.
		return []domain.QueryVariant{{OriginID: q.ID, Text: cleaned[0], Kind: domain.ReformulationClarify}}
	case domain.ReformulationExpand, domain.ReformulationMultiQuery:
		max := r.multiCount
		if max <= 0 {
			max = 3
		}
		variants := []domain.QueryVariant{{OriginID: q.ID, Text: q.Text, Kind: r.kind}}
		for _, t := range cleaned {
			if len(variants) > max {
				break
			}
			if strings.EqualFold(t, q.Text) {
				continue
			}
			variants = append(variants, domain.QueryVariant{OriginID: q.ID, Text: t, Kind: r.kind})
		}
		return variants
	default:
		return nil
	}
}

// rebindOrigin points cached variants at the current query id. The cache key
// already excludes the id, so only the origin reference needs fixing.
func rebindOrigin(variants []domain.QueryVariant, queryID string) []domain.QueryVariant {
	out := make([]domain.QueryVariant, len(variants))
	for i, v := range variants {
		v.OriginID = queryID
		out[i] = v
	}
	return out
}
