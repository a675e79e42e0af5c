package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

// Cache key namespaces. Each namespace carries its own TTL policy.
const (
	keyPrefixEmbedding     = "rag:emb:"
	keyPrefixSearch        = "rag:search:"
	keyPrefixReformulation = "rag:reform:"
	keyPrefixDocumentIndex = "rag:docidx:"
)

// hashKey derives a deterministic full-width SHA-256 key from the
// semantically relevant inputs. Request metadata that does not affect the
// output (request id, session id) must never be part of the tuple.
func hashKey(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

func embeddingCacheKey(text string) string {
	return hashKey(keyPrefixEmbedding, text)
}

func reformulationCacheKey(queryText string, kind domain.ReformulationKind, sessionContext string) string {
	return hashKey(keyPrefixReformulation, queryText, string(kind), sessionContext)
}

// searchCacheKey scopes a cached backend result to the backend, the query
// variant text and every input that changes the result set.
func searchCacheKey(backend string, variantText string, mode domain.Mode, limit int, filter domain.SearchFilter) string {
	parts := []string{
		backend,
		variantText,
		string(mode),
		fmt.Sprintf("%d", limit),
		filter.Collection,
		canonicalFilters(filter.Filters),
	}
	return hashKey(keyPrefixSearch, parts...)
}

func documentIndexKey(documentID string) string {
	return keyPrefixDocumentIndex + documentID
}

func canonicalFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
		b.WriteByte(';')
	}
	return b.String()
}
