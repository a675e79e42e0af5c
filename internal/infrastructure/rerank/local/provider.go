package local

import (
	"context"
	"strings"
	"unicode"

	"github.com/kmorozov/ragengine/internal/core/ports"
)

// Provider scores query/document pairs by lexical token overlap. It is the
// zero-dependency fallback for deployments without a cross-encoder service;
// scores land in [0, 1].
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "local-lexical"
}

func (p *Provider) Rank(ctx context.Context, queryText string, documents []ports.RerankDocument) ([]ports.RerankScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := toTokenSet(queryText)
	scores := make([]ports.RerankScore, 0, len(documents))
	for i, doc := range documents {
		scores = append(scores, ports.RerankScore{
			Index: i,
			Score: tokenOverlap(queryTokens, toTokenSet(doc.Text)),
		})
	}
	return scores, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
