package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kmorozov/ragengine/internal/config"
	"github.com/kmorozov/ragengine/internal/core/domain"
	"github.com/kmorozov/ragengine/internal/core/ports"
	"github.com/kmorozov/ragengine/internal/core/usecase"
	"github.com/kmorozov/ragengine/internal/infrastructure/cache/redis"
	neo4jgraph "github.com/kmorozov/ragengine/internal/infrastructure/graph/neo4j"
	lexicalpg "github.com/kmorozov/ragengine/internal/infrastructure/lexical/postgres"
	"github.com/kmorozov/ragengine/internal/infrastructure/llm/ollama"
	"github.com/kmorozov/ragengine/internal/infrastructure/queue/nats"
	"github.com/kmorozov/ragengine/internal/infrastructure/rerank/httpapi"
	"github.com/kmorozov/ragengine/internal/infrastructure/rerank/local"
	"github.com/kmorozov/ragengine/internal/infrastructure/resilience"
	"github.com/kmorozov/ragengine/internal/infrastructure/vector/qdrant"
	"github.com/kmorozov/ragengine/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue          *nats.Queue
	Retriever      ports.Retriever
	InvalidationUC ports.CacheInvalidator
	Metrics        *metrics.RetrievalMetrics

	closeFn func(context.Context)
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	m := metrics.NewRetrievalMetrics("api")
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	db, err := lexicalpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	lexical := lexicalpg.NewIndex(db)
	if err := lexical.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cacheStore, err := redis.New(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Metrics:  m.Cache(),
	})
	if err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		RequestsPerSecond:  cfg.OllamaRPS,
		Burst:              cfg.OllamaBurst,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	rewriter := ollama.NewRewriter(ollamaClient)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantChunkCollection, cfg.QdrantSummaryCollection, qdrant.Options{
		ResilienceExecutor: executor,
	})

	var graph ports.GraphStore
	var graphStore *neo4jgraph.Store
	if cfg.Neo4jEnabled {
		graphStore, err = neo4jgraph.New(ctx, neo4jgraph.Options{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		graph = graphStore
	}

	var reranker ports.RerankProvider
	if cfg.RerankEnabled {
		switch cfg.RerankProvider {
		case "httpapi":
			reranker = httpapi.New(cfg.RerankURL, httpapi.Options{
				Model:  cfg.RerankModel,
				APIKey: cfg.RerankAPIKey,
			})
		default:
			reranker = local.New()
		}
	}

	limits := domain.RetrievalLimits{
		MaxTopK:             cfg.RetrievalMaxTopK,
		DefaultTopK:         cfg.RetrievalDefaultTopK,
		TopKPolicy:          domain.TopKPolicy(cfg.RetrievalTopKPolicy),
		AllowedFilterKeys:   cfg.AllowedFilterKeys(),
		CandidateLimit:      cfg.RetrievalCandidateLimit,
		RRFK:                cfg.RetrievalFusionRRFK,
		HierarchicalDocs:    cfg.RetrievalHierarchicalDocs,
		GraphBaseMode:       domain.Mode(cfg.RetrievalGraphBaseMode),
		GraphRelatedLimit:   cfg.RetrievalGraphRelatedLimit,
		GraphEnrichment:     cfg.RetrievalGraphEnrichment,
		Reformulation:       domain.ReformulationKind(cfg.ReformulationKind),
		MultiQueryCount:     cfg.MultiQueryCount,
		BackendTimeout:      time.Duration(cfg.RetrievalBackendTimeoutMS) * time.Millisecond,
		ProviderTimeout:     time.Duration(cfg.RetrievalProviderTimeoutMS) * time.Millisecond,
		RerankEnabled:       cfg.RerankEnabled,
		RerankMaxCandidates: cfg.RerankMaxCandidates,
	}
	ttls := usecase.CacheTTLs{
		Embeddings:     time.Duration(cfg.CacheEmbeddingTTLMinutes) * time.Minute,
		SearchResults:  time.Duration(cfg.CacheSearchTTLMinutes) * time.Minute,
		Reformulations: time.Duration(cfg.CacheReformulationTTLMinutes) * time.Minute,
	}

	retriever := usecase.NewRetrieveUseCase(embedder, vectors, lexical, graph, reranker, cacheStore, rewriter, limits, ttls)
	invalidationUC := usecase.NewInvalidationUseCase(cacheStore, ttls)

	return &App{
		Config: cfg,

		Queue:          queue,
		Retriever:      retriever,
		InvalidationUC: invalidationUC,
		Metrics:        m,

		closeFn: func(closeCtx context.Context) {
			queue.Close()
			_ = db.Close()
			_ = cacheStore.Close()
			if graphStore != nil {
				_ = graphStore.Close(closeCtx)
			}
		},
	}, nil
}

func (a *App) Close(ctx context.Context) {
	if a.closeFn != nil {
		a.closeFn(ctx)
	}
}
