package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

type embedderFake struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	err   error
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.vec == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.vec, nil
}

type vectorFake struct {
	mu          sync.Mutex
	chunkCalls  int
	lastLimit   int
	lastFilter  domain.SearchFilter
	chunks      []domain.CandidateResult
	chunkErr    error
	summaries   []domain.DocumentHit
	summaryErr  error
	summaryCall int
}

func (f *vectorFake) SearchChunks(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.CandidateResult, error) {
	f.mu.Lock()
	f.chunkCalls++
	f.lastLimit = limit
	f.lastFilter = filter
	f.mu.Unlock()
	if f.chunkErr != nil {
		return nil, f.chunkErr
	}
	out := make([]domain.CandidateResult, len(f.chunks))
	copy(out, f.chunks)
	return out, nil
}

func (f *vectorFake) SearchSummaries(_ context.Context, _ []float32, _ int, _ string) ([]domain.DocumentHit, error) {
	f.mu.Lock()
	f.summaryCall++
	f.mu.Unlock()
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.summaries, nil
}

type lexicalFake struct {
	mu      sync.Mutex
	calls   int
	results []domain.CandidateResult
	err     error
}

func (f *lexicalFake) Search(_ context.Context, _ string, _ int, _ domain.SearchFilter) ([]domain.CandidateResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.CandidateResult, len(f.results))
	copy(out, f.results)
	return out, nil
}

type graphFake struct {
	mu       sync.Mutex
	calls    int
	entities []domain.RelatedEntity
	err      error
}

func (f *graphFake) Related(context.Context, string, int) ([]domain.RelatedEntity, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.entities, nil
}

type rerankFake struct {
	gotDocs int
	scores  []ports.RerankScore
	err     error
}

func (f *rerankFake) Name() string { return "fake" }

func (f *rerankFake) Rank(_ context.Context, _ string, documents []ports.RerankDocument) ([]ports.RerankScore, error) {
	f.gotDocs = len(documents)
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type rewriterFake struct {
	calls int
	texts []string
	err   error
}

func (f *rewriterFake) Rewrite(context.Context, string, domain.ReformulationKind, string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.texts, nil
}

// storeFake is an in-memory CacheStore. With failing=true every operation
// errors, to exercise cache outage isolation.
type storeFake struct {
	mu      sync.Mutex
	items   map[string][]byte
	indexes map[string]map[string]struct{}
	failing bool
}

func newStoreFake() *storeFake {
	return &storeFake{
		items:   make(map[string][]byte),
		indexes: make(map[string]map[string]struct{}),
	}
}

func (s *storeFake) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.failing {
		return nil, false, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *storeFake) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if s.failing {
		return errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *storeFake) Delete(_ context.Context, keys ...string) error {
	if s.failing {
		return errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
		delete(s.indexes, k)
	}
	return nil
}

func (s *storeFake) AddToIndex(_ context.Context, indexKey, member string, _ time.Duration) error {
	if s.failing {
		return errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes[indexKey] == nil {
		s.indexes[indexKey] = make(map[string]struct{})
	}
	s.indexes[indexKey][member] = struct{}{}
	return nil
}

func (s *storeFake) IndexMembers(_ context.Context, indexKey string) ([]string, error) {
	if s.failing {
		return nil, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.indexes[indexKey]))
	for m := range s.indexes[indexKey] {
		out = append(out, m)
	}
	return out, nil
}

func cand(chunkID, docID string, score float64) domain.CandidateResult {
	return domain.CandidateResult{ChunkID: chunkID, DocumentID: docID, Text: "text " + chunkID, Score: score}
}

type deps struct {
	embedder *embedderFake
	vectors  *vectorFake
	lexical  *lexicalFake
	graph    *graphFake
	reranker *rerankFake
	rewriter *rewriterFake
	store    *storeFake
}

func newDeps() *deps {
	return &deps{
		embedder: &embedderFake{},
		vectors:  &vectorFake{},
		lexical:  &lexicalFake{},
		graph:    &graphFake{},
		reranker: &rerankFake{},
		rewriter: &rewriterFake{},
		store:    newStoreFake(),
	}
}

func (d *deps) useCase(limits domain.RetrievalLimits) *RetrieveUseCase {
	return NewRetrieveUseCase(
		d.embedder, d.vectors, d.lexical, d.graph, d.reranker,
		d.store, d.rewriter, limits, CacheTTLs{},
	)
}

func baseLimits() domain.RetrievalLimits {
	return domain.RetrievalLimits{AllowedFilterKeys: []string{"category", "source"}}
}

func TestRetrieveRejectsUnknownMode(t *testing.T) {
	d := newDeps()
	uc := d.useCase(baseLimits())

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: "fuzzy"})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestRetrieveRejectsEmptyText(t *testing.T) {
	d := newDeps()
	uc := d.useCase(baseLimits())

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "   ", Mode: domain.ModeSemantic})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestRetrieveRejectsUnlistedFilterKey(t *testing.T) {
	d := newDeps()
	uc := d.useCase(baseLimits())

	_, err := uc.Retrieve(context.Background(), domain.Query{
		Text:    "q",
		Mode:    domain.ModeSemantic,
		Filters: map[string]string{"owner": "bob"},
	})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for unlisted filter key, got %v", err)
	}
}

func TestRetrieveClampsTopKToMaximum(t *testing.T) {
	d := newDeps()
	for i := 0; i < 150; i++ {
		d.vectors.chunks = append(d.vectors.chunks, cand(chunkName(i), "doc-1", 1.0/float64(i+1)))
	}
	limits := baseLimits()
	limits.MaxTopK = 100
	limits.CandidateLimit = 200
	uc := d.useCase(limits)

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5000})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(resp.Results) > 100 {
		t.Fatalf("top_k cap violated: got %d results", len(resp.Results))
	}
}

func TestRetrieveRejectsTopKWhenPolicyReject(t *testing.T) {
	d := newDeps()
	limits := baseLimits()
	limits.TopKPolicy = domain.TopKReject
	uc := d.useCase(limits)

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5000})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery under reject policy, got %v", err)
	}
}

func TestRetrieveSemanticOrdersByScore(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{
		cand("chunk-1", "doc-1", 0.92),
		cand("chunk-2", "doc-1", 0.85),
		cand("chunk-3", "doc-2", 0.41),
	}
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "capital of France", Mode: domain.ModeSemantic, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].FusedScore > resp.Results[i-1].FusedScore {
			t.Fatalf("results not ordered by descending score at %d", i)
		}
	}
	for i, r := range resp.Results {
		if r.RerankScore != nil {
			t.Fatalf("expected nil rerank score with reranker disabled")
		}
		if r.FinalRank != i+1 {
			t.Fatalf("expected final rank %d, got %d", i+1, r.FinalRank)
		}
	}
	if resp.Degraded.Any() {
		t.Fatalf("unexpected degradation: %+v", resp.Degraded)
	}
}

func TestRetrieveHybridFusesBothBackends(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{
		cand("chunk-a", "doc-1", 0.9),
		cand("chunk-b", "doc-1", 0.8),
		cand("chunk-c", "doc-2", 0.7),
	}
	d.lexical.results = []domain.CandidateResult{
		cand("chunk-b", "doc-1", 12.0),
		cand("chunk-d", "doc-3", 8.0),
		cand("chunk-a", "doc-1", 5.0),
	}
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeHybrid, TopK: 10})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if d.vectors.chunkCalls != 1 || d.lexical.calls != 1 {
		t.Fatalf("expected one call per backend, got vector=%d lexical=%d", d.vectors.chunkCalls, d.lexical.calls)
	}
	got := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		got[i] = r.ChunkID
	}
	want := []string{"chunk-b", "chunk-a", "chunk-d", "chunk-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fused order mismatch: got %v want %v", got, want)
		}
	}
	if len(resp.Results[0].Sources) != 2 {
		t.Fatalf("expected chunk-b fused from both sources, got %v", resp.Results[0].Sources)
	}
}

func TestRetrieveHybridSurvivesSingleBackendFailure(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	d.lexical.err = errors.New("index offline")
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeHybrid, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ChunkID != "chunk-a" {
		t.Fatalf("expected vector-only results, got %+v", resp.Results)
	}
}

func TestRetrieveFailsWhenAllBackendsFail(t *testing.T) {
	d := newDeps()
	d.vectors.chunkErr = errors.New("vector down")
	d.lexical.err = errors.New("lexical down")
	uc := d.useCase(baseLimits())

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeHybrid, TopK: 5})
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveGraphModeFailsFastWhenGraphUnavailable(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	d.lexical.results = []domain.CandidateResult{cand("chunk-a", "doc-1", 3.0)}
	d.graph.err = errors.New("neo4j unreachable")
	uc := d.useCase(baseLimits())

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeGraph, TopK: 5})
	if !domain.IsKind(err, domain.ErrGraphUnavailable) {
		t.Fatalf("expected ErrGraphUnavailable, got %v", err)
	}
}

func TestRetrieveGraphModeWithoutStoreConfigured(t *testing.T) {
	d := newDeps()
	uc := NewRetrieveUseCase(d.embedder, d.vectors, d.lexical, nil, nil, d.store, nil, baseLimits(), CacheTTLs{})

	_, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeGraph, TopK: 5})
	if !domain.IsKind(err, domain.ErrGraphUnavailable) {
		t.Fatalf("expected ErrGraphUnavailable, got %v", err)
	}
}

func TestRetrieveGraphModeAnnotatesResults(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{
		cand("chunk-a", "doc-1", 0.9),
		cand("chunk-b", "doc-1", 0.5),
	}
	d.lexical.results = []domain.CandidateResult{cand("chunk-a", "doc-1", 4.0)}
	d.graph.entities = []domain.RelatedEntity{
		{Name: "Paris", Kind: "city", ChunkIDs: []string{"chunk-a"}},
		{Name: "Louvre", Kind: "museum", ChunkIDs: []string{"chunk-z"}},
	}
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeGraph, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if d.graph.calls != 1 {
		t.Fatalf("expected one graph traversal, got %d", d.graph.calls)
	}
	var annotated *domain.RankedResult
	for i := range resp.Results {
		if resp.Results[i].ChunkID == "chunk-a" {
			annotated = &resp.Results[i]
		}
	}
	if annotated == nil {
		t.Fatalf("chunk-a missing from results")
	}
	if len(annotated.Entities) != 1 || annotated.Entities[0].Name != "Paris" {
		t.Fatalf("expected Paris annotation on chunk-a, got %+v", annotated.Entities)
	}
}

func TestRetrieveReformulationFailureDegradesSoftly(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	d.rewriter.err = context.DeadlineExceeded
	limits := baseLimits()
	limits.Reformulation = domain.ReformulationMultiQuery
	uc := d.useCase(limits)

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !resp.Degraded.Reformulation {
		t.Fatalf("expected reformulation degradation flag")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected results for the unreformulated query, got %d", len(resp.Results))
	}
}

func TestRetrieveMultiQueryFansOutPerVariant(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	d.rewriter.texts = []string{"phrasing one", "phrasing two"}
	limits := baseLimits()
	limits.Reformulation = domain.ReformulationMultiQuery
	uc := d.useCase(limits)

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	// Original plus two rewrites, one vector search each.
	if d.vectors.chunkCalls != 3 {
		t.Fatalf("expected 3 vector calls, got %d", d.vectors.chunkCalls)
	}
	if resp.Degraded.Reformulation {
		t.Fatalf("unexpected reformulation degradation")
	}
}

func TestRetrieveSecondIdenticalQueryServedFromCache(t *testing.T) {
	d := newDeps()
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	uc := d.useCase(baseLimits())

	q := domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5}
	if _, err := uc.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("first Retrieve() error = %v", err)
	}
	if _, err := uc.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("second Retrieve() error = %v", err)
	}
	if d.vectors.chunkCalls != 1 {
		t.Fatalf("expected cached second call, backend called %d times", d.vectors.chunkCalls)
	}
}

func TestRetrieveCacheOutageDegradesToDirectComputation(t *testing.T) {
	d := newDeps()
	d.store.failing = true
	d.vectors.chunks = []domain.CandidateResult{cand("chunk-a", "doc-1", 0.9)}
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeSemantic, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error with failing cache = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected direct computation results, got %d", len(resp.Results))
	}
}

func TestRetrieveHierarchicalEmptyTierOneReturnsEmpty(t *testing.T) {
	d := newDeps()
	uc := d.useCase(baseLimits())

	resp, err := uc.Retrieve(context.Background(), domain.Query{Text: "q", Mode: domain.ModeHierarchical, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected empty results for empty collection, got %d", len(resp.Results))
	}
	if d.vectors.chunkCalls != 0 {
		t.Fatalf("tier two must be skipped when tier one is empty")
	}
}

func chunkName(i int) string {
	return fmt.Sprintf("chunk-%03d", i)
}
