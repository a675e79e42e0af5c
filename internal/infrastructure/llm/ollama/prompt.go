package ollama

import (
	"fmt"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

const maxContextSnippet = 2000

func buildRewritePrompt(queryText string, kind domain.ReformulationKind, sessionContext string) (string, error) {
	snippet := sessionContext
	if len(snippet) > maxContextSnippet {
		snippet = snippet[:maxContextSnippet]
	}

	var instruction string
	switch kind {
	case domain.ReformulationExpand:
		instruction = `Expand the search query with synonyms and related terminology.
Return up to 2 expanded phrasings that would match relevant passages the original might miss.`
	case domain.ReformulationClarify:
		instruction = `Rewrite the search query so it is self-contained.
Resolve pronouns and vague references using the conversation context.
Return exactly 1 rewritten query.`
	case domain.ReformulationMultiQuery:
		instruction = `Decompose the search query into distinct sub-questions.
Return up to 3 sub-queries that each cover one aspect of the question.`
	default:
		return "", fmt.Errorf("no prompt for reformulation kind %q", kind)
	}

	prompt := `You rewrite search queries for a document retrieval system.
` + instruction + `
Return strict JSON object: {"queries": [array of strings]}.
No markdown, no extra keys.

Query:
` + queryText

	if snippet != "" {
		prompt += `

Conversation context:
` + snippet
	}
	return prompt, nil
}
