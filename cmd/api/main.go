package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/api"
	"github.com/querylift/backend/internal/api/handlers"
	"github.com/querylift/backend/internal/cache"
	"github.com/querylift/backend/internal/cache/redis"
	"github.com/querylift/backend/internal/classifier"
	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/expansion"
	"github.com/querylift/backend/internal/ingestion"
	"github.com/querylift/backend/internal/llm"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/internal/middleware/ratelimit"
	"github.com/querylift/backend/internal/middleware/security"
	"github.com/querylift/backend/internal/pipeline"
	"github.com/querylift/backend/internal/query"
	"github.com/querylift/backend/internal/rerank"
	"github.com/querylift/backend/internal/retrieval"
	"github.com/querylift/backend/internal/search/bm25"
	"github.com/querylift/backend/internal/storage/sqlite"
	"github.com/querylift/backend/internal/uplift"
	"github.com/querylift/backend/internal/vector/zilliz"
	"github.com/querylift/backend/pkg/config"
	appLogger "github.com/querylift/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting QueryLift API Server")
	metrics.Init()

	ctx := context.Background()
	checks := map[string]handlers.Check{}

	var history query.HistoryStore
	if cfg.SQLite.Enabled {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(ctx); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		history = sqliteClient
		checks["sqlite"] = sqliteClient.Ping
	}

	stores := newCache(ctx, cfg, checks)

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	gen := llm.Timed(llmClient)

	proc := pipeline.New(
		classifier.New(gen,
			classifier.WithLLMFallback(cfg.Pipeline.ClassifierFallback),
			classifier.WithTimeout(cfg.Pipeline.StageTimeout),
		),
		uplift.New(gen, uplift.WithTimeout(cfg.Pipeline.StageTimeout)),
		expansion.New(gen, expansion.WithTimeout(cfg.Pipeline.StageTimeout)),
		stores.Queries,
		pipeline.Config{
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			MaxExpansions:       cfg.Pipeline.MaxExpansions,
			ExpansionEnabled:    cfg.Pipeline.ExpansionEnabled,
			ExpansionSkipHits:   cfg.Pipeline.ExpansionSkipHits,
			LatencyBudget:       cfg.Pipeline.LatencyBudget,
			CacheTTL:            cfg.Cache.TTL,
		},
	)

	embedder := cache.NewCachedEmbedder(llmClient, stores.Embeddings, cfg.Cache.TTL)
	index := bm25.New(bm25.DefaultK1, bm25.DefaultB)

	var zillizClient *zilliz.Client
	if cfg.Zilliz.Enabled {
		zillizClient, err = zilliz.NewClient(ctx,
			cfg.Zilliz.Endpoint,
			cfg.Zilliz.APIKey,
			cfg.Zilliz.CollectionName,
			cfg.Zilliz.VectorDim,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Zilliz client", zap.Error(err))
		}
		defer zillizClient.Close()

		if err := zillizClient.EnsureCollection(ctx); err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}
	}

	var processor *ingestion.Processor
	var retriever *retrieval.Retriever
	retrievalCfg := retrieval.Config{
		MinSimilarity:      cfg.Retrieval.MinSimilarity,
		SearchTimeout:      cfg.Retrieval.SearchTimeout,
		DemoteDuplicates:   cfg.Retrieval.DemoteDuplicates,
		DuplicateThreshold: cfg.Retrieval.DuplicateThreshold,
	}
	reranker := newReranker(cfg)
	if zillizClient != nil {
		processor = ingestion.NewProcessor(index, embedder, zillizClient)
		retriever = retrieval.NewRetriever(index, embedder, zillizClient, reranker, retrievalCfg)
	} else {
		processor = ingestion.NewProcessor(index, nil, nil)
		retriever = retrieval.NewRetriever(index, nil, nil, reranker, retrievalCfg)
	}

	if cfg.Lexical.CorpusPath != "" {
		stats, err := processor.LoadFile(ctx, cfg.Lexical.CorpusPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			appLogger.Warn("Corpus file not found, starting with an empty index", zap.String("path", cfg.Lexical.CorpusPath))
		case err != nil:
			appLogger.Fatal("Failed to load corpus", zap.Error(err))
		default:
			appLogger.Info("Corpus loaded", zap.Int("documents", stats.Documents), zap.Int("chunks", stats.Chunks))
		}
	}

	queryEngine := query.NewEngine(proc, retriever, history, query.Options{
		ExpansionRetrieval: cfg.Retrieval.ExpansionRetrieval,
		DefaultProfile:     domain.Profile(cfg.Retrieval.DefaultProfile),
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use("/api", limiter.Middleware())

	api.Register(app, api.Deps{
		Engine:         queryEngine,
		Processor:      processor,
		Checks:         checks,
		Purger:         stores.Purger,
		MaxQueryLength: cfg.Server.MaxQueryLength,
		Logger:         appLogger.Named("validation"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// newCache prefers Redis and falls back to in-process LRUs when Redis is
// disabled or unreachable at startup.
func newCache(ctx context.Context, cfg *config.Config, checks map[string]handlers.Check) cache.Stores {
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx,
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err == nil {
			checks["redis"] = redisClient.Ping
			return cache.Shared(redisClient)
		}
		appLogger.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
	}

	return cache.MemoryStores(cfg.Cache.MemoryItems, cfg.Cache.EmbeddingItems, cfg.Cache.TTL)
}

func newReranker(cfg *config.Config) retrieval.Reranker {
	if cfg.Rerank.Endpoint != "" {
		return rerank.NewHTTPScorer(cfg.Rerank.Endpoint, time.Duration(cfg.Rerank.TimeoutSec)*time.Second)
	}
	return rerank.NewLexicalScorer(rerank.Weights{
		Overlap:  cfg.Rerank.OverlapWeight,
		Phrase:   cfg.Rerank.PhraseWeight,
		Coverage: cfg.Rerank.CoverageWeight,
	})
}
