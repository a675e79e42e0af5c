package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
	"github.com/kmorozov/ragengine/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	retriever ports.Retriever
	metrics   *metrics.RetrievalMetrics
}

func NewRouter(retriever ports.Retriever, m *metrics.RetrievalMetrics) *Router {
	return &Router{
		retriever: retriever,
		metrics:   m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	return requestIDMiddleware(accessLogMiddleware(rt.metricsMiddleware(mux)))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query          string            `json:"query"`
	Mode           string            `json:"mode"`
	TopK           int               `json:"top_k"`
	Filters        map[string]string `json:"filters"`
	Collection     string            `json:"collection"`
	SessionContext string            `json:"session_context"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	mode := req.Mode
	if strings.TrimSpace(mode) == "" {
		mode = string(domain.ModeHybrid)
	}
	parsedMode, err := domain.ParseMode(mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	response, err := rt.retriever.Retrieve(r.Context(), domain.Query{
		Text:           req.Query,
		Mode:           parsedMode,
		TopK:           req.TopK,
		Filters:        req.Filters,
		Collection:     req.Collection,
		SessionContext: req.SessionContext,
	})
	if err != nil {
		rt.metrics.ObserveRetrieval(serviceName, string(parsedMode), "error", 0, time.Since(start))
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.metrics.ObserveRetrieval(serviceName, string(parsedMode), "success", len(response.Results), time.Since(start))
	for _, stage := range degradedStages(response.Degraded) {
		rt.metrics.ObserveDegradation(serviceName, stage)
	}
	writeJSON(w, http.StatusOK, response)
}

func degradedStages(d domain.Degradation) []string {
	var stages []string
	if d.Reformulation {
		stages = append(stages, "reformulation")
	}
	if d.Reranking {
		stages = append(stages, "reranking")
	}
	if d.Graph {
		stages = append(stages, "graph")
	}
	return stages
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
