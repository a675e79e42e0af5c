package local

import (
	"context"
	"testing"

	"github.com/kmorozov/ragengine/internal/core/ports"
)

func TestRankScoresByTokenOverlap(t *testing.T) {
	provider := New()
	scores, err := provider.Rank(context.Background(), "invoice total amount", []ports.RerankDocument{
		{ID: "chunk-1", Text: "the invoice total amount is due"},
		{ID: "chunk-2", Text: "invoice history for the account"},
		{ID: "chunk-3", Text: "unrelated passage about weather"},
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	if scores[0].Score != 1.0 {
		t.Fatalf("expected full overlap for first doc, got %v", scores[0].Score)
	}
	if scores[1].Score <= scores[2].Score {
		t.Fatalf("expected partial overlap to beat no overlap: %v vs %v", scores[1].Score, scores[2].Score)
	}
	if scores[2].Score != 0 {
		t.Fatalf("expected zero overlap for last doc, got %v", scores[2].Score)
	}
}

func TestRankPreservesDocumentIndexes(t *testing.T) {
	provider := New()
	scores, err := provider.Rank(context.Background(), "alpha", []ports.RerankDocument{
		{ID: "a", Text: "beta"},
		{ID: "b", Text: "alpha"},
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if scores[0].Index != 0 || scores[1].Index != 1 {
		t.Fatalf("unexpected indexes: %+v", scores)
	}
}

func TestRankHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := New()
	if _, err := provider.Rank(ctx, "alpha", []ports.RerankDocument{{ID: "a", Text: "alpha"}}); err == nil {
		t.Fatalf("expected context error")
	}
}
