package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/mnemo/internal/api"
	"github.com/nidhogg/mnemo/internal/config"
	"github.com/nidhogg/mnemo/internal/consolidation"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/ingest"
	"github.com/nidhogg/mnemo/internal/kv"
	"github.com/nidhogg/mnemo/internal/ltm"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/provider"
	"github.com/nidhogg/mnemo/internal/rerank"
	"github.com/nidhogg/mnemo/internal/retrieval"
	"github.com/nidhogg/mnemo/internal/stm"
	"github.com/nidhogg/mnemo/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting mnemo...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Long-term item store. This is the one dependency without a fallback:
	// a memory daemon that cannot persist memories has nothing to offer.
	itemStore, err := ltm.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("primary item store unavailable", zap.Error(err))
	}
	defer itemStore.Close()
	if err := itemStore.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Key-value layer for STM and consolidation tasks. Redis when
	// configured, in-process otherwise (entries then die with the process).
	var kvStore kv.Store
	if cfg.Database.Redis.URL != "" {
		redisKV, err := kv.NewRedisStore(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process KV store", zap.Error(err))
			kvStore = kv.NewMemStore()
		} else {
			defer redisKV.Close()
			kvStore = redisKV
		}
	} else {
		kvStore = kv.NewMemStore()
	}

	// Relation graph. Neo4j when configured, in-process otherwise.
	var graphStore graph.Store
	if cfg.Database.Neo4j.URI != "" {
		neoStore, err := graph.NewNeo4jStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err == nil {
			err = neoStore.Ping(context.Background())
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, using in-process relation graph", zap.Error(err))
			graphStore = graph.NewMemStore()
		} else {
			defer neoStore.Close(context.Background())
			graphStore = neoStore
		}
	} else {
		graphStore = graph.NewMemStore()
	}

	// Similarity provider: embeddings plus the Qdrant index. Either may be
	// absent; retrieval then leans on the graph alone.
	var embedder embedding.Provider
	if cfg.Embedding.Endpoint != "" {
		embedder = embedding.NewAPIProvider(embedding.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		})
	}

	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vc, err := vectorstore.NewClient(vectorstore.Config{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
		})
		if err != nil {
			logger.Warn("Qdrant unavailable, similarity search disabled", zap.Error(err))
		} else {
			defer vc.Close()
			dim := uint64(cfg.Embedding.Dimension)
			if dim == 0 {
				dim = 1024
			}
			if err := vc.EnsureCollection(context.Background(), dim); err != nil {
				logger.Warn("failed to ensure Qdrant collection", zap.Error(err))
			}
			vectors = vc
		}
	}

	var reranker rerank.Provider
	if cfg.Rerank.Endpoint != "" {
		reranker = rerank.NewAPIProvider(rerank.Config{
			Endpoint: cfg.Rerank.Endpoint,
			Model:    cfg.Rerank.Model,
			APIKey:   cfg.Rerank.APIKey,
		})
	}

	var inferrer memory.Inferrer
	if cfg.Inference.Endpoint != "" || cfg.Inference.APIKey != "" {
		llm := provider.New(provider.Config{
			Endpoint: cfg.Inference.Endpoint,
			APIKey:   cfg.Inference.APIKey,
			Model:    cfg.Inference.Model,
		}, logger)
		inferrer = memory.NewLLMInferrer(llm, logger)
	}

	spreader := memory.NewSpreader(graphStore, itemStore, logger)

	var linker *memory.Linker
	if inferrer != nil {
		linker = memory.NewLinker(graphStore, inferrer, memory.DefaultLinkerOpts(), logger)
	}

	consolidationCfg := consolidation.DefaultConfig()
	if cfg.Memory.DecayRatePerDay > 0 {
		consolidationCfg.DecayRatePerDay = cfg.Memory.DecayRatePerDay
	}
	if cfg.Memory.StrengthenFactor > 0 {
		consolidationCfg.StrengthenFactor = cfg.Memory.StrengthenFactor
	}
	if cfg.Memory.SalienceThreshold > 0 {
		consolidationCfg.SalienceThreshold = cfg.Memory.SalienceThreshold
	}
	queue := consolidation.NewQueue(kvStore, logger)
	runner := consolidation.NewRunner(queue, graphStore, itemStore, linker, consolidationCfg, logger)

	pipelineCfg := retrieval.DefaultConfig()
	if cfg.Memory.RetrievalLimit > 0 {
		pipelineCfg.Limit = cfg.Memory.RetrievalLimit
	}
	if cfg.Memory.ActivationDepth > 0 {
		pipelineCfg.Activation.MaxDepth = cfg.Memory.ActivationDepth
	}
	if cfg.Memory.ActivationThreshold > 0 {
		pipelineCfg.Activation.Threshold = cfg.Memory.ActivationThreshold
	}
	if cfg.Memory.ClarityRatePerDay > 0 {
		pipelineCfg.ClarityRate = cfg.Memory.ClarityRatePerDay
	}

	var searcher retrieval.Searcher
	if vectors != nil {
		searcher = vectors
	}
	pipeline := retrieval.New(embedder, searcher, reranker, spreader, itemStore, pipelineCfg, logger)

	stmStore := stm.New(kvStore, cfg.Memory.StmBound, logger)
	ingestor := ingest.New(itemStore, embedder, indexerOrNil(vectors), runner, logger)

	// Consolidation poller. External schedulers can also trigger a pass
	// through the API; completion marking is idempotent either way.
	tickCtx, stopTicker := context.WithCancel(context.Background())
	interval := time.Duration(cfg.Memory.ConsolidateSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if _, err := runner.RunDue(tickCtx, time.Now()); err != nil {
					logger.Warn("consolidation pass failed", zap.Error(err))
				}
			}
		}
	}()

	handler := api.NewHandler(stmStore, pipeline, ingestor, runner, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("mnemo listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mnemo...")
	stopTicker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// indexerOrNil keeps a typed nil *vectorstore.Client from sneaking into
// the Indexer interface.
func indexerOrNil(vc *vectorstore.Client) ingest.Indexer {
	if vc == nil {
		return nil
	}
	return vc
}
