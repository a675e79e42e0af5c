package usecase

import (
	"context"
	"fmt"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
)

// searchHierarchical runs two-tier retrieval: document-summary similarity
// first, then chunk similarity restricted to the matched documents. The
// second tier can never see a chunk outside the first tier's document set.
// An empty first tier is an empty result, not an error.
func searchHierarchical(
	ctx context.Context,
	vectors ports.VectorIndex,
	queryVector []float32,
	q domain.Query,
	chunkLimit int,
	docLimit int,
) ([]domain.CandidateResult, error) {
	docs, err := vectors.SearchSummaries(ctx, queryVector, docLimit, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("summary search: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	documentIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		documentIDs = append(documentIDs, d.DocumentID)
	}

	filter := domain.SearchFilter{
		Filters:     q.Filters,
		Collection:  q.Collection,
		DocumentIDs: documentIDs,
	}
	chunks, err := vectors.SearchChunks(ctx, queryVector, chunkLimit, filter)
	if err != nil {
		return nil, fmt.Errorf("scoped chunk search: %w", err)
	}

	allowed := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}

	out := make([]domain.CandidateResult, 0, len(chunks))
	for _, c := range chunks {
		// Guard against a backend ignoring the document scope.
		if _, ok := allowed[c.DocumentID]; !ok {
			continue
		}
		c.Source = domain.ModeHierarchical
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	return out, nil
}
