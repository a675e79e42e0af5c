package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/infrastructure/resilience"
)

// Client searches two Qdrant collections: chunk embeddings and
// document-summary embeddings (the hierarchical first tier). The handle is
// stateless and safe for concurrent use.
type Client struct {
	baseURL           string
	chunkCollection   string
	summaryCollection string
	httpClient        *http.Client
	executor          *resilience.Executor
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, chunkCollection, summaryCollection string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		chunkCollection:   chunkCollection,
		summaryCollection: summaryCollection,
		httpClient:        &http.Client{Timeout: timeout},
		executor:          options.ResilienceExecutor,
	}
}

func (c *Client) SearchChunks(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.CandidateResult, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if qf := buildFilter(filter); qf != nil {
		reqBody["filter"] = qf
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.search(ctx, c.chunkCollection, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.CandidateResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.CandidateResult{
			ChunkID:    stringPayload(r.Payload, "chunk_id"),
			DocumentID: stringPayload(r.Payload, "document_id"),
			Text:       stringPayload(r.Payload, "text"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) SearchSummaries(
	ctx context.Context,
	queryVector []float32,
	limit int,
	collection string,
) ([]domain.DocumentHit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if collection != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{matchCondition("collection", collection)},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.search(ctx, c.summaryCollection, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.DocumentHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.DocumentHit{
			DocumentID: stringPayload(r.Payload, "document_id"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, collection string, reqBody map[string]any, out any) error {
	call := func(ctx context.Context) error {
		return c.doSearch(ctx, collection, reqBody, out)
	}
	operation := "qdrant.search." + collection
	if c.executor == nil {
		return wrapTemporaryIfNeeded(operation, call(ctx))
	}
	err := c.executor.Execute(ctx, operation, call, classifyQdrantError)
	return wrapTemporaryIfNeeded(operation, err)
}

func (c *Client) doSearch(ctx context.Context, collection string, reqBody map[string]any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "search",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(detail),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

// buildFilter maps the engine filter onto a Qdrant boolean filter: metadata
// keys and collection become must-match conditions, the hierarchical
// document scope becomes a should-match-any clause.
func buildFilter(filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, len(filter.Filters)+2)
	for key, value := range filter.Filters {
		must = append(must, matchCondition(key, value))
	}
	if filter.Collection != "" {
		must = append(must, matchCondition("collection", filter.Collection))
	}
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   "document_id",
			"match": map[string]any{"any": filter.DocumentIDs},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func stringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
