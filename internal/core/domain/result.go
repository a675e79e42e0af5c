package domain

// CandidateResult is a single hit from one retrieval backend. Candidates are
// ephemeral: each backend call owns the slice it produced.
type CandidateResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     Mode    `json:"source"`
	Rank       int     `json:"rank"`
}

// ScoreProvenance records one source list's contribution to a fused result.
type ScoreProvenance struct {
	Source Mode    `json:"source"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
}

// RelatedEntity is graph context attached to a result chunk.
type RelatedEntity struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
}

// FusedResult merges contributions for one chunk across source lists. The
// fused score is a pure function of the contributing ranks; fusion builds new
// records and never mutates candidate slices.
type FusedResult struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	FusedScore float64           `json:"fused_score"`
	Sources    []Mode            `json:"sources"`
	Provenance []ScoreProvenance `json:"provenance"`
	Entities   []RelatedEntity   `json:"entities,omitempty"`
}

// RankedResult is the externally returned unit, immutable after construction.
// RerankScore is nil when reranking was disabled or skipped.
type RankedResult struct {
	FusedResult
	RerankScore *float64 `json:"rerank_score,omitempty"`
	FinalRank   int      `json:"final_rank"`
}

// Degradation reports quality-enhancing stages that were skipped or failed
// while base retrieval still succeeded. Callers surface these as warnings.
type Degradation struct {
	Reformulation bool `json:"reformulation"`
	Reranking     bool `json:"reranking"`
	Graph         bool `json:"graph"`
}

func (d Degradation) Any() bool {
	return d.Reformulation || d.Reranking || d.Graph
}

// RetrievalResponse pairs the ranked results with the degradation status.
type RetrievalResponse struct {
	Results  []RankedResult `json:"results"`
	Degraded Degradation    `json:"degraded"`
}

// DocumentHit is a document-level match from summary search (hierarchical
// tier one).
type DocumentHit struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}
