package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

// rerankCandidates re-scores the fused head with the configured provider and
// returns the final ranked list plus a degradation flag. Reranking is a
// quality enhancement: a provider failure falls back to fused ordering.
func rerankCandidates(
	ctx context.Context,
	provider ports.RerankProvider,
	queryText string,
	fused []domain.FusedResult,
	topK int,
	limits domain.RetrievalLimits,
) ([]domain.RankedResult, bool) {
	if !limits.RerankEnabled || provider == nil || len(fused) == 0 {
		return buildRanked(fused, nil, topK), false
	}

	// The provider never sees more than the configured candidate cap.
	head := len(fused)
	if limits.RerankMaxCandidates > 0 && head > limits.RerankMaxCandidates {
		head = limits.RerankMaxCandidates
	}

	documents := make([]ports.RerankDocument, head)
	for i, f := range fused[:head] {
		documents[i] = ports.RerankDocument{ID: f.ChunkID, Text: f.Text}
	}

	callCtx, cancel := context.WithTimeout(ctx, limits.ProviderTimeout)
	defer cancel()

	start := time.Now()
	scores, err := provider.Rank(callCtx, queryText, documents)
	if err != nil {
		slog.Warn("rerank_degraded",
			"provider", provider.Name(),
			"candidates", head,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", err,
		)
		return buildRanked(fused, nil, topK), true
	}

	byChunk := make(map[string]float64, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= head {
			continue
		}
		byChunk[fused[s.Index].ChunkID] = s.Score
	}

	return buildRanked(fused, byChunk, topK), false
}

// buildRanked is the single candidate-to-result shaping layer shared by
// every mode. Given rerank scores it reorders the scored head; without them
// it preserves fused order. The output never exceeds topK.
func buildRanked(fused []domain.FusedResult, rerankScores map[string]float64, topK int) []domain.RankedResult {
	ordered := make([]domain.FusedResult, len(fused))
	copy(ordered, fused)

	if len(rerankScores) > 0 {
		scoreOf := func(f domain.FusedResult) (float64, bool) {
			s, ok := rerankScores[f.ChunkID]
			return s, ok
		}
		sort.SliceStable(ordered, func(i, j int) bool {
			si, iOK := scoreOf(ordered[i])
			sj, jOK := scoreOf(ordered[j])
			if iOK != jOK {
				// Scored candidates rank ahead of the unscored tail.
				return iOK
			}
			if !iOK {
				return false
			}
			if si != sj {
				return si > sj
			}
			return ordered[i].ChunkID < ordered[j].ChunkID
		})
	}

	n := len(ordered)
	if topK > 0 && n > topK {
		n = topK
	}

	out := make([]domain.RankedResult, 0, n)
	for i := 0; i < n; i++ {
		result := domain.RankedResult{
			FusedResult: ordered[i],
			FinalRank:   i + 1,
		}
		if score, ok := rerankScores[ordered[i].ChunkID]; ok {
			s := score
			result.RerankScore = &s
		}
		out = append(out, result)
	}
	return out
}
