package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kmorozov/ragengine/internal/core/ports"
)

// Provider calls a remote cross-encoder rerank service. The wire shape
// follows the common rerank API convention: the service receives the query
// and the document texts, and returns one relevance score per input index.
type Provider struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

type Options struct {
	Model       string
	APIKey      string
	HTTPTimeout time.Duration
}

func New(baseURL string, options Options) *Provider {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      options.Model,
		apiKey:     options.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string {
	if p.model != "" {
		return "httpapi/" + p.model
	}
	return "httpapi"
}

func (p *Provider) Rank(ctx context.Context, queryText string, documents []ports.RerankDocument) ([]ports.RerankScore, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(documents))
	for _, doc := range documents {
		texts = append(texts, doc.Text)
	}

	reqBody := map[string]any{
		"query":     queryText,
		"documents": texts,
	}
	if p.model != "" {
		reqBody["model"] = p.model
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			return nil, fmt.Errorf("rerank status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("rerank status: %s", resp.Status)
	}

	var response struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]ports.RerankScore, 0, len(response.Results))
	for _, r := range response.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores = append(scores, ports.RerankScore{Index: r.Index, Score: r.RelevanceScore})
	}
	return scores, nil
}
