package domain

import (
	"fmt"
	"strings"
)

// Mode selects the retrieval strategy for a query.
type Mode string

const (
	ModeSemantic     Mode = "semantic"
	ModeKeyword      Mode = "keyword"
	ModeHybrid       Mode = "hybrid"
	ModeHierarchical Mode = "hierarchical"
	ModeGraph        Mode = "graph"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeSemantic:
		return ModeSemantic, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeHierarchical:
		return ModeHierarchical, nil
	case ModeGraph:
		return ModeGraph, nil
	default:
		return "", WrapError(ErrInvalidQuery, "parse mode", fmt.Errorf("unknown retrieval mode %q", raw))
	}
}

// Query is the immutable retrieval request. Validation happens once, before
// any backend call; the engine never modifies an accepted query.
type Query struct {
	ID             string            `json:"id"`
	Text           string            `json:"text"`
	Mode           Mode              `json:"mode"`
	TopK           int               `json:"top_k"`
	Filters        map[string]string `json:"filters,omitempty"`
	Collection     string            `json:"collection,omitempty"`
	SessionContext string            `json:"session_context,omitempty"`
}

// ReformulationKind selects how the raw query is rewritten before retrieval.
type ReformulationKind string

const (
	ReformulationNone       ReformulationKind = "none"
	ReformulationExpand     ReformulationKind = "expand"
	ReformulationClarify    ReformulationKind = "clarify"
	ReformulationMultiQuery ReformulationKind = "multi_query"
)

// QueryVariant is a reformulated phrasing of a query. Variants are transient:
// they live in the cache for their TTL and are never persisted.
type QueryVariant struct {
	OriginID string            `json:"origin_id"`
	Text     string            `json:"text"`
	Kind     ReformulationKind `json:"kind"`
}

// SearchFilter is the backend-facing slice of a query: metadata filters plus
// optional scoping. DocumentIDs restricts chunk search to the given documents
// and is only set by the hierarchical second tier.
type SearchFilter struct {
	Filters     map[string]string
	Collection  string
	DocumentIDs []string
}
