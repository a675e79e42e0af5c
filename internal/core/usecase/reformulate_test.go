package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

func reformLimits(kind domain.ReformulationKind) domain.RetrievalLimits {
	limits := normalizeLimits(domain.RetrievalLimits{})
	limits.Reformulation = kind
	return limits
}

func TestReformulateNoneIsPassthrough(t *testing.T) {
	rewriter := &rewriterFake{texts: []string{"should not be used"}}
	r := newReformulator(rewriter, newEngineCache(newStoreFake(), CacheTTLs{}), reformLimits(domain.ReformulationNone))

	variants, degraded := r.reformulate(context.Background(), domain.Query{ID: "q1", Text: "original"})
	if degraded {
		t.Fatalf("passthrough must not degrade")
	}
	if len(variants) != 1 || variants[0].Text != "original" {
		t.Fatalf("expected single original variant, got %+v", variants)
	}
	if rewriter.calls != 0 {
		t.Fatalf("rewriter must not be invoked for kind none")
	}
}

func TestReformulateClarifyReplacesPhrasing(t *testing.T) {
	rewriter := &rewriterFake{texts: []string{"what is the capital city of France"}}
	r := newReformulator(rewriter, newEngineCache(newStoreFake(), CacheTTLs{}), reformLimits(domain.ReformulationClarify))

	variants, degraded := r.reformulate(context.Background(), domain.Query{ID: "q1", Text: "its capital?", SessionContext: "talking about France"})
	if degraded {
		t.Fatalf("unexpected degradation")
	}
	if len(variants) != 1 {
		t.Fatalf("clarify must produce exactly one variant, got %d", len(variants))
	}
	if variants[0].Text != "what is the capital city of France" {
		t.Fatalf("expected clarified phrasing, got %q", variants[0].Text)
	}
}

func TestReformulateMultiQueryIncludesOriginalAndCaps(t *testing.T) {
	rewriter := &rewriterFake{texts: []string{"one", "two", "three", "four", "five"}}
	limits := reformLimits(domain.ReformulationMultiQuery)
	limits.MultiQueryCount = 3
	r := newReformulator(rewriter, newEngineCache(newStoreFake(), CacheTTLs{}), limits)

	variants, _ := r.reformulate(context.Background(), domain.Query{ID: "q1", Text: "original"})
	if len(variants) != 4 {
		t.Fatalf("expected original + 3 branches, got %d", len(variants))
	}
	if variants[0].Text != "original" {
		t.Fatalf("expected original phrasing first, got %q", variants[0].Text)
	}
}

func TestReformulateSecondCallHitsCache(t *testing.T) {
	rewriter := &rewriterFake{texts: []string{"expanded"}}
	store := newStoreFake()
	r := newReformulator(rewriter, newEngineCache(store, CacheTTLs{}), reformLimits(domain.ReformulationExpand))

	q := domain.Query{ID: "q1", Text: "original"}
	first, _ := r.reformulate(context.Background(), q)
	q.ID = "q2"
	second, _ := r.reformulate(context.Background(), q)

	if rewriter.calls != 1 {
		t.Fatalf("expected one rewriter call, got %d", rewriter.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached variants differ: %d vs %d", len(first), len(second))
	}
	if second[0].OriginID != "q2" {
		t.Fatalf("cached variants must rebind to the current query id, got %q", second[0].OriginID)
	}
}

func TestReformulateRewriterErrorFailsSoft(t *testing.T) {
	rewriter := &rewriterFake{err: errors.New("llm timeout")}
	r := newReformulator(rewriter, newEngineCache(newStoreFake(), CacheTTLs{}), reformLimits(domain.ReformulationExpand))

	variants, degraded := r.reformulate(context.Background(), domain.Query{ID: "q1", Text: "original"})
	if !degraded {
		t.Fatalf("expected degradation flag")
	}
	if len(variants) != 1 || variants[0].Text != "original" {
		t.Fatalf("expected fallback to original query, got %+v", variants)
	}
}

func TestReformulateEmptyRewriteFailsSoft(t *testing.T) {
	rewriter := &rewriterFake{texts: []string{"", "   "}}
	r := newReformulator(rewriter, newEngineCache(newStoreFake(), CacheTTLs{}), reformLimits(domain.ReformulationExpand))

	variants, degraded := r.reformulate(context.Background(), domain.Query{ID: "q1", Text: "original"})
	if !degraded {
		t.Fatalf("expected degradation for unusable rewrite output")
	}
	if len(variants) != 1 || variants[0].Text != "original" {
		t.Fatalf("expected original fallback, got %+v", variants)
	}
}
