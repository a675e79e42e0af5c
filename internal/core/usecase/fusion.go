package usecase

import (
	"sort"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

type fusedAccumulator struct {
	chunk      domain.CandidateResult
	score      float64
	sources    []domain.Mode
	provenance []domain.ScoreProvenance
}

// fuseRRF merges ranked candidate lists with reciprocal rank fusion: a chunk
// at 1-indexed rank r contributes 1/(k+r), contributions sum across lists.
// Ties break on contributing-source count, then on lexicographic chunk id,
// so the output order is fully deterministic. Input lists are never mutated;
// the result is built from fresh records.
func fuseRRF(lists [][]domain.CandidateResult, rrfK int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]*fusedAccumulator)
	order := make([]string, 0)

	for _, list := range lists {
		for i, candidate := range list {
			rank := i + 1
			entry, ok := acc[candidate.ChunkID]
			if !ok {
				entry = &fusedAccumulator{chunk: candidate}
				acc[candidate.ChunkID] = entry
				order = append(order, candidate.ChunkID)
			}
			entry.chunk = preferRicherCandidate(entry.chunk, candidate)
			entry.score += 1.0 / float64(rrfK+rank)
			entry.sources = appendSource(entry.sources, candidate.Source)
			entry.provenance = append(entry.provenance, domain.ScoreProvenance{
				Source: candidate.Source,
				Rank:   rank,
				Score:  candidate.Score,
			})
		}
	}

	out := make([]domain.FusedResult, 0, len(acc))
	for _, chunkID := range order {
		entry := acc[chunkID]
		out = append(out, domain.FusedResult{
			ChunkID:    entry.chunk.ChunkID,
			DocumentID: entry.chunk.DocumentID,
			Text:       entry.chunk.Text,
			FusedScore: entry.score,
			Sources:    entry.sources,
			Provenance: entry.provenance,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if len(out[i].Sources) != len(out[j].Sources) {
			return len(out[i].Sources) > len(out[j].Sources)
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}

// fuseSingle converts one ranked list into fused records without rank
// fusion: the fused score is the raw backend score.
func fuseSingle(list []domain.CandidateResult) []domain.FusedResult {
	out := make([]domain.FusedResult, 0, len(list))
	for i, candidate := range list {
		out = append(out, domain.FusedResult{
			ChunkID:    candidate.ChunkID,
			DocumentID: candidate.DocumentID,
			Text:       candidate.Text,
			FusedScore: candidate.Score,
			Sources:    []domain.Mode{candidate.Source},
			Provenance: []domain.ScoreProvenance{{
				Source: candidate.Source,
				Rank:   i + 1,
				Score:  candidate.Score,
			}},
		})
	}
	return out
}

func appendSource(sources []domain.Mode, source domain.Mode) []domain.Mode {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}

func preferRicherCandidate(current, candidate domain.CandidateResult) domain.CandidateResult {
	if current.ChunkID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	return current
}
