package cli

import (
	"fmt"
	"time"

	"evidence/config"
	"evidence/internal/adapter/cache"
	"evidence/internal/adapter/chunker"
	"evidence/internal/adapter/embedding"
	"evidence/internal/adapter/fs"
	"evidence/internal/adapter/lexical"
	"evidence/internal/adapter/llm"
	"evidence/internal/adapter/matcher"
	"evidence/internal/adapter/vecstore"
	"evidence/internal/adapter/websearch"
	"evidence/internal/port"
	"evidence/internal/usecase"
)

// engine bundles every wired component for one corpus root. Caches are
// explicit per-engine objects with a Close lifecycle, not process globals.
type engine struct {
	indexer   *usecase.IndexUseCase
	retriever *usecase.RetrieveUseCase
	verifier  *usecase.VerifyUseCase
	cache     *cache.Store
}

func (e *engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// newEngine wires the engine for the given corpus root from config.
// needLLM controls whether a missing reasoning-provider key is fatal.
func newEngine(root string, cfg *config.Config, needLLM bool) (*engine, error) {
	if err := config.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("failed to create .evidence directory: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := vecstore.Open(config.IndexPath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to open quantized index: %w", err)
	}

	cacheStore, err := cache.Open(config.CacheDBPath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	lex := lexical.NewIndex(cfg.Lexical.NgramSize, cfg.Lexical.RegionWindow)
	walker := fs.NewWalker(cfg.Corpus.Includes, cfg.Corpus.Excludes)
	chk := chunker.NewLineChunker(cfg.Corpus.ChunkLines, cfg.Corpus.OverlapLines)

	indexer := usecase.NewIndexUseCase(root, walker, chk, embedder, store, lex, cfg.Embedding.BatchSize)

	match := matcher.New(cfg.Match.AcceptThreshold, cfg.Match.EarlyExitScore)
	retriever := usecase.NewRetrieveUseCase(
		indexer, store, match, lex, embedder,
		cfg.Vector.MinSimilarity, cfg.Lexical.MinContainment, cfg.Lexical.PrefilterDocs,
	)

	var reasoner port.Reasoner
	reasoner, err = llm.NewOpenAIReasoner(cfg.LLM.APIKeyEnv, cfg.LLM.Model)
	if err != nil {
		if needLLM {
			cacheStore.Close()
			return nil, fmt.Errorf("reasoning provider unavailable: %w", err)
		}
		reasoner = nil
	}

	var web port.WebSearcher
	if cfg.WebSearch.Enabled {
		web = websearch.NewScholarlyClient(
			cfg.WebSearch.Endpoint,
			time.Duration(cfg.WebSearch.TimeoutSeconds)*time.Second,
		)
	}

	verifier := usecase.NewVerifyUseCase(
		indexer, retriever, embedder, reasoner, web, cacheStore,
		cfg.Verify.MaxRounds, cfg.Verify.TopK,
		cfg.Verify.WeakThreshold, cfg.Verify.StrongThreshold,
	)

	return &engine{
		indexer:   indexer,
		retriever: retriever,
		verifier:  verifier,
		cache:     cacheStore,
	}, nil
}

func buildEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BatchSize)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}
