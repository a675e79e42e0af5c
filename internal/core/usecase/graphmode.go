package usecase

import (
	"github.com/kmorozov/ragengine/internal/core/domain"
)

// annotateWithEntities attaches related-entity context to every base result
// whose chunk a traversed entity supports, up to perResult entities each.
// The annotation is pure: it builds new result records and leaves both
// inputs untouched.
func annotateWithEntities(fused []domain.FusedResult, entities []domain.RelatedEntity, perResult int) []domain.FusedResult {
	if len(fused) == 0 || len(entities) == 0 {
		out := make([]domain.FusedResult, len(fused))
		copy(out, fused)
		return out
	}
	if perResult <= 0 {
		perResult = 5
	}

	byChunk := make(map[string][]domain.RelatedEntity)
	for _, entity := range entities {
		for _, chunkID := range entity.ChunkIDs {
			byChunk[chunkID] = append(byChunk[chunkID], entity)
		}
	}

	out := make([]domain.FusedResult, len(fused))
	for i, result := range fused {
		related := byChunk[result.ChunkID]
		if len(related) > perResult {
			related = related[:perResult]
		}
		if len(related) > 0 {
			result.Entities = make([]domain.RelatedEntity, len(related))
			copy(result.Entities, related)
		}
		out[i] = result
	}
	return out
}
