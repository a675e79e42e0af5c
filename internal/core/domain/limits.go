package domain

import "time"

// TopKPolicy decides what happens when a request exceeds the hard TopK cap.
type TopKPolicy string

const (
	TopKClamp  TopKPolicy = "clamp"
	TopKReject TopKPolicy = "reject"
)

// RetrievalLimits bounds every stage of the retrieval pipeline. Zero values
// are replaced with defaults by the use case constructor.
type RetrievalLimits struct {
	MaxTopK           int
	DefaultTopK       int
	TopKPolicy        TopKPolicy
	AllowedFilterKeys []string
	MaxFilters        int
	MaxFilterValueLen int

	CandidateLimit int
	RRFK           int

	HierarchicalDocs  int
	GraphBaseMode     Mode
	GraphRelatedLimit int
	// GraphEnrichment annotates results of every mode with graph context
	// when a graph store is configured. Unlike graph mode, a traversal
	// failure here only raises the degradation flag.
	GraphEnrichment bool

	Reformulation   ReformulationKind
	MultiQueryCount int

	BackendTimeout  time.Duration
	ProviderTimeout time.Duration

	RerankEnabled       bool
	RerankMaxCandidates int
}
