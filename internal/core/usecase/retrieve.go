package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

type retrievalPhase string

const (
	phaseValidating       retrievalPhase = "validating"
	phaseDispatching      retrievalPhase = "dispatching"
	phaseAwaitingBackends retrievalPhase = "awaiting_backends"
	phaseFusing           retrievalPhase = "fusing"
	phaseReranking        retrievalPhase = "reranking"
	phaseDone             retrievalPhase = "done"
	phaseFailed           retrievalPhase = "failed"
)

// RetrieveUseCase is the mode dispatcher: it validates a query, reformulates
// it, fans out to the retrieval backends of the resolved mode, fuses the
// ranked lists and reranks the survivors. Backend handles are long-lived,
// stateless and concurrency-safe; no request state outlives the call.
type RetrieveUseCase struct {
	embedder ports.Embedder
	vectors  ports.VectorIndex
	lexical  ports.LexicalIndex
	graph    ports.GraphStore
	reranker ports.RerankProvider
	cache    *engineCache
	reform   *reformulator
	limits   domain.RetrievalLimits

	allowedFilters map[string]struct{}
}

func NewRetrieveUseCase(
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	lexical ports.LexicalIndex,
	graph ports.GraphStore,
	reranker ports.RerankProvider,
	cacheStore ports.CacheStore,
	rewriter ports.QueryRewriter,
	limits domain.RetrievalLimits,
	ttls CacheTTLs,
) *RetrieveUseCase {
	limits = normalizeLimits(limits)

	allowed := make(map[string]struct{}, len(limits.AllowedFilterKeys))
	for _, key := range limits.AllowedFilterKeys {
		allowed[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
	}

	cache := newEngineCache(cacheStore, ttls)
	return &RetrieveUseCase{
		embedder:       embedder,
		vectors:        vectors,
		lexical:        lexical,
		graph:          graph,
		reranker:       reranker,
		cache:          cache,
		reform:         newReformulator(rewriter, cache, limits),
		limits:         limits,
		allowedFilters: allowed,
	}
}

func normalizeLimits(limits domain.RetrievalLimits) domain.RetrievalLimits {
	if limits.MaxTopK <= 0 {
		limits.MaxTopK = 100
	}
	if limits.DefaultTopK <= 0 {
		limits.DefaultTopK = 5
	}
	if limits.TopKPolicy == "" {
		limits.TopKPolicy = domain.TopKClamp
	}
	if limits.MaxFilters <= 0 {
		limits.MaxFilters = 8
	}
	if limits.MaxFilterValueLen <= 0 {
		limits.MaxFilterValueLen = 256
	}
	if limits.CandidateLimit <= 0 {
		limits.CandidateLimit = 30
	}
	if limits.RRFK <= 0 {
		limits.RRFK = 60
	}
	if limits.HierarchicalDocs <= 0 {
		limits.HierarchicalDocs = 5
	}
	if limits.GraphBaseMode != domain.ModeSemantic && limits.GraphBaseMode != domain.ModeHybrid {
		limits.GraphBaseMode = domain.ModeHybrid
	}
	if limits.GraphRelatedLimit <= 0 {
		limits.GraphRelatedLimit = 5
	}
	if limits.MultiQueryCount <= 0 {
		limits.MultiQueryCount = 3
	}
	if limits.BackendTimeout <= 0 {
		limits.BackendTimeout = 10 * time.Second
	}
	if limits.ProviderTimeout <= 0 {
		limits.ProviderTimeout = 10 * time.Second
	}
	if limits.RerankMaxCandidates <= 0 || limits.RerankMaxCandidates > 100 {
		limits.RerankMaxCandidates = 100
	}
	return limits
}

func (uc *RetrieveUseCase) Retrieve(ctx context.Context, q domain.Query) (*domain.RetrievalResponse, error) {
	uc.logPhase(q.ID, phaseValidating)
	q, err := uc.validate(q)
	if err != nil {
		return nil, err
	}

	var degraded domain.Degradation

	variants, reformDegraded := uc.reform.reformulate(ctx, q)
	degraded.Reformulation = reformDegraded

	uc.logPhase(q.ID, phaseDispatching)
	fused, graphDegraded, err := uc.dispatch(ctx, q, variants)
	if err != nil {
		uc.logPhase(q.ID, phaseFailed)
		return nil, err
	}
	degraded.Graph = graphDegraded

	uc.logPhase(q.ID, phaseReranking)
	ranked, rerankDegraded := rerankCandidates(ctx, uc.reranker, q.Text, fused, q.TopK, uc.limits)
	degraded.Reranking = rerankDegraded

	uc.logPhase(q.ID, phaseDone)
	return &domain.RetrievalResponse{Results: ranked, Degraded: degraded}, nil
}

func (uc *RetrieveUseCase) validate(q domain.Query) (domain.Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, domain.WrapError(domain.ErrInvalidQuery, "validate query", fmt.Errorf("query text is required"))
	}

	mode, err := domain.ParseMode(string(q.Mode))
	if err != nil {
		return q, err
	}
	q.Mode = mode

	if q.TopK <= 0 {
		q.TopK = uc.limits.DefaultTopK
	}
	if q.TopK > uc.limits.MaxTopK {
		if uc.limits.TopKPolicy == domain.TopKReject {
			return q, domain.WrapError(domain.ErrInvalidQuery, "validate query",
				fmt.Errorf("top_k %d exceeds maximum %d", q.TopK, uc.limits.MaxTopK))
		}
		q.TopK = uc.limits.MaxTopK
	}

	if len(q.Filters) > uc.limits.MaxFilters {
		return q, domain.WrapError(domain.ErrInvalidQuery, "validate query",
			fmt.Errorf("too many filters: %d (max %d)", len(q.Filters), uc.limits.MaxFilters))
	}
	for key, value := range q.Filters {
		if _, ok := uc.allowedFilters[strings.ToLower(key)]; !ok {
			return q, domain.WrapError(domain.ErrInvalidQuery, "validate query",
				fmt.Errorf("filter key %q is not allowed", key))
		}
		if len(value) > uc.limits.MaxFilterValueLen {
			return q, domain.WrapError(domain.ErrInvalidQuery, "validate query",
				fmt.Errorf("filter %q value exceeds %d bytes", key, uc.limits.MaxFilterValueLen))
		}
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return q, nil
}

type backendCall struct {
	name string
	run  func(ctx context.Context) ([]domain.CandidateResult, error)
}

// dispatch fans out to every backend of the resolved mode, all calls
// concurrent and individually timed out, then fuses the surviving lists. A
// single backend failure degrades to an empty contribution; only the loss of
// every backend fails the query.
func (uc *RetrieveUseCase) dispatch(
	ctx context.Context,
	q domain.Query,
	variants []domain.QueryVariant,
) ([]domain.FusedResult, bool, error) {
	fetchLimit := uc.limits.CandidateLimit
	if fetchLimit < q.TopK {
		fetchLimit = q.TopK
	}
	baseFilter := domain.SearchFilter{Filters: q.Filters, Collection: q.Collection}

	graphRequested := q.Mode == domain.ModeGraph
	if graphRequested && uc.graph == nil {
		return nil, false, domain.WrapError(domain.ErrGraphUnavailable, "dispatch",
			fmt.Errorf("graph mode requested but no graph store is configured"))
	}
	graphEnrich := graphRequested || (uc.limits.GraphEnrichment && uc.graph != nil)

	calls := uc.buildCalls(q, variants, fetchLimit, baseFilter)

	uc.logPhase(q.ID, phaseAwaitingBackends)

	lists := make([][]domain.CandidateResult, len(calls))
	callErrs := make([]error, len(calls))

	var entities []domain.RelatedEntity
	var graphErr error

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, uc.limits.BackendTimeout)
			defer cancel()
			lists[i], callErrs[i] = call.run(callCtx)
			return nil
		})
	}
	if graphEnrich {
		// Graph traversal joins the same wave so request latency is the
		// maximum of the arms, never their sum.
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, uc.limits.BackendTimeout)
			defer cancel()
			entities, graphErr = uc.graph.Related(callCtx, q.Text, uc.limits.GraphRelatedLimit*fetchLimit)
			return nil
		})
	}
	_ = g.Wait()

	graphDegraded := false
	if graphErr != nil {
		if graphRequested {
			// An explicitly requested graph enhancement never downgrades
			// silently to base-only results.
			return nil, false, domain.WrapError(domain.ErrGraphUnavailable, "graph traversal", graphErr)
		}
		graphDegraded = true
		slog.Warn("graph_enrichment_degraded", "query_id", q.ID, "error", graphErr)
	}

	succeeded := make([][]domain.CandidateResult, 0, len(calls))
	failures := make([]error, 0)
	for i, err := range callErrs {
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", calls[i].name, err))
			slog.Warn("backend_degraded", "query_id", q.ID, "backend", calls[i].name, "error", err)
			continue
		}
		succeeded = append(succeeded, lists[i])
	}
	if len(succeeded) == 0 {
		return nil, graphDegraded, domain.WrapError(domain.ErrRetrievalUnavailable, "dispatch", errors.Join(failures...))
	}

	uc.logPhase(q.ID, phaseFusing)
	var fused []domain.FusedResult
	if len(succeeded) > 1 {
		fused = fuseRRF(succeeded, uc.limits.RRFK)
	} else {
		fused = fuseSingle(succeeded[0])
	}

	if graphEnrich && graphErr == nil {
		fused = annotateWithEntities(fused, entities, uc.limits.GraphRelatedLimit)
	}
	return fused, graphDegraded, nil
}

func (uc *RetrieveUseCase) buildCalls(
	q domain.Query,
	variants []domain.QueryVariant,
	fetchLimit int,
	baseFilter domain.SearchFilter,
) []backendCall {
	var calls []backendCall

	addVector := func(text string) {
		calls = append(calls, uc.vectorCall(text, q.Mode, fetchLimit, baseFilter))
	}
	addLexical := func(text string) {
		calls = append(calls, uc.lexicalCall(text, q.Mode, fetchLimit, baseFilter))
	}

	switch q.Mode {
	case domain.ModeSemantic:
		for _, v := range variants {
			addVector(v.Text)
		}
	case domain.ModeKeyword:
		for _, v := range variants {
			addLexical(v.Text)
		}
	case domain.ModeHybrid:
		for _, v := range variants {
			addVector(v.Text)
			addLexical(v.Text)
		}
	case domain.ModeHierarchical:
		// Hierarchical search is already two-stage; it runs on the primary
		// variant only.
		calls = append(calls, uc.hierarchicalCall(variants[0].Text, q, fetchLimit, baseFilter))
	case domain.ModeGraph:
		for _, v := range variants {
			addVector(v.Text)
			if uc.limits.GraphBaseMode == domain.ModeHybrid {
				addLexical(v.Text)
			}
		}
	}
	return calls
}

func (uc *RetrieveUseCase) vectorCall(text string, mode domain.Mode, limit int, filter domain.SearchFilter) backendCall {
	key := searchCacheKey("vector", text, mode, limit, filter)
	return backendCall{
		name: "vector",
		run: func(ctx context.Context) ([]domain.CandidateResult, error) {
			return uc.runCached(ctx, key, func(ctx context.Context) ([]domain.CandidateResult, error) {
				vector, err := uc.embedQuery(ctx, text)
				if err != nil {
					return nil, err
				}
				results, err := uc.vectors.SearchChunks(ctx, vector, limit, filter)
				if err != nil {
					return nil, err
				}
				return annotateRanks(results, domain.ModeSemantic), nil
			})
		},
	}
}

func (uc *RetrieveUseCase) lexicalCall(text string, mode domain.Mode, limit int, filter domain.SearchFilter) backendCall {
	key := searchCacheKey("lexical", text, mode, limit, filter)
	return backendCall{
		name: "lexical",
		run: func(ctx context.Context) ([]domain.CandidateResult, error) {
			return uc.runCached(ctx, key, func(ctx context.Context) ([]domain.CandidateResult, error) {
				results, err := uc.lexical.Search(ctx, text, limit, filter)
				if err != nil {
					return nil, err
				}
				return annotateRanks(results, domain.ModeKeyword), nil
			})
		},
	}
}

func (uc *RetrieveUseCase) hierarchicalCall(text string, q domain.Query, limit int, filter domain.SearchFilter) backendCall {
	key := searchCacheKey("hierarchical", text, q.Mode, limit, filter)
	return backendCall{
		name: "hierarchical",
		run: func(ctx context.Context) ([]domain.CandidateResult, error) {
			return uc.runCached(ctx, key, func(ctx context.Context) ([]domain.CandidateResult, error) {
				vector, err := uc.embedQuery(ctx, text)
				if err != nil {
					return nil, err
				}
				return searchHierarchical(ctx, uc.vectors, vector, q, limit, uc.limits.HierarchicalDocs)
			})
		},
	}
}

// runCached checks the search-result cache before a live backend round-trip.
func (uc *RetrieveUseCase) runCached(
	ctx context.Context,
	key string,
	fetch func(ctx context.Context) ([]domain.CandidateResult, error),
) ([]domain.CandidateResult, error) {
	if cached, ok := uc.cache.getSearch(ctx, key); ok {
		return cached, nil
	}
	results, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	uc.cache.setSearch(ctx, key, results)
	return results, nil
}

func (uc *RetrieveUseCase) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := embeddingCacheKey(text)
	if vector, ok := uc.cache.getEmbedding(ctx, key); ok {
		return vector, nil
	}
	vector, err := uc.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	uc.cache.setEmbedding(ctx, key, vector)
	return vector, nil
}

func annotateRanks(results []domain.CandidateResult, source domain.Mode) []domain.CandidateResult {
	out := make([]domain.CandidateResult, len(results))
	for i, r := range results {
		r.Source = source
		r.Rank = i + 1
		out[i] = r
	}
	return out
}

func (uc *RetrieveUseCase) logPhase(queryID string, phase retrievalPhase) {
	slog.Debug("retrieval_phase", "query_id", queryID, "phase", string(phase))
}
