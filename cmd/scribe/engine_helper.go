package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"scribe/internal/applyengine"
	"scribe/internal/audittrail"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/maintenance"
	"scribe/internal/repoindex"
	"scribe/internal/secrets"
	"scribe/internal/vcsstash"
	"scribe/internal/vectorstore"
	"scribe/internal/watcher"
)

var (
	configOnce   sync.Once
	sharedConfig *config.Config
	configErr    error
)

// getConfig loads and caches the workspace's configuration, falling back to
// defaults if no config file exists.
func getConfig(repoRoot string, logger *logging.Logger) (*config.Config, error) {
	configOnce.Do(func() {
		cfg, err := config.Load(repoRoot)
		if err != nil {
			logger.Warn("Failed to load config, using defaults", map[string]interface{}{
				"error": err.Error(),
			})
			cfg = config.DefaultConfig()
		}
		sharedConfig = cfg
	})
	return sharedConfig, configErr
}

var (
	applyEngineOnce sync.Once
	sharedApply     *applyengine.Engine
	applyEngineErr  error
)

// getApplyEngine returns a shared Apply Engine instance, wired to an
// audit-trail log and an inline secret scanner.
func getApplyEngine(repoRoot string, logger *logging.Logger) (*applyengine.Engine, error) {
	applyEngineOnce.Do(func() {
		cfg, err := getConfig(repoRoot, logger)
		if err != nil {
			applyEngineErr = err
			return
		}

		auditPath := cfg.ApplyEngine.StateDir
		if auditPath == "" {
			auditPath = ".scribe"
		}
		auditLog, err := audittrail.Open(
			repoRoot+"/"+auditPath+"/audit.jsonl",
			10*1024*1024,
			5,
			logger,
		)
		if err != nil {
			applyEngineErr = fmt.Errorf("open audit trail: %w", err)
			return
		}

		engineCfg := applyengine.Config{
			RepoRoot:           repoRoot,
			SnapshotMaxBytes:   cfg.ApplyEngine.SnapshotMaxBytes,
			GitAutoStashMode:   vcsstash.Mode(cfg.ApplyEngine.GitAutoStashMode),
			CheckpointStrategy: applyengine.CheckpointStrategy(cfg.ApplyEngine.CheckpointStrategy),
			StateDir:           cfg.ApplyEngine.StateDir,
			GitTimeout:         time.Duration(cfg.ApplyEngine.GitTimeoutMs) * time.Millisecond,
			TransactionTTL:     time.Duration(cfg.ApplyEngine.TransactionTTLMs) * time.Millisecond,
			ScanForSecrets:     cfg.ApplyEngine.ScanForSecrets,
		}

		sharedApply = applyengine.New(engineCfg, logger, secrets.NewInlineScanner(), auditLog)
	})
	return sharedApply, applyEngineErr
}

// mustGetApplyEngine returns the shared Apply Engine or exits on error.
func mustGetApplyEngine(repoRoot string, logger *logging.Logger) *applyengine.Engine {
	engine, err := getApplyEngine(repoRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing apply engine: %v\n", err)
		os.Exit(1)
	}
	return engine
}

var (
	indexOnce        sync.Once
	sharedStore      *repoindex.Store
	sharedBuild      *repoindex.Builder
	sharedEngine     *repoindex.Engine
	indexErr         error
	indexNeedsRebuild bool
)

// getIndexer returns the shared index Store, Builder and query Engine,
// constructed from the workspace's persisted indexer configuration.
func getIndexer(repoRoot string, logger *logging.Logger) (*repoindex.Store, *repoindex.Builder, *repoindex.Engine, error) {
	indexOnce.Do(func() {
		cfg, err := getConfig(repoRoot, logger)
		if err != nil {
			indexErr = err
			return
		}

		sharedStore = repoindex.NewStore(repoRoot, ".scribe/index", logger)

		var vector repoindex.VectorStore
		switch cfg.Indexer.VectorStore {
		case "sqlite-vec":
			sq, err := vectorstore.OpenSQLiteStore(repoRoot + "/.scribe/vectors.db")
			if err != nil {
				logger.Warn("Failed to open SQLite vector store, falling back to in-memory", map[string]interface{}{
					"error": err.Error(),
				})
				mem := vectorstore.NewMemoryStore()
				vector = mem
				sharedStore.SetVectorIndexer(mem)
			} else {
				vector = sq
				sharedStore.SetVectorIndexer(sq)
			}
		case "none":
			// vector blending disabled; Engine runs BM25-only.
		default:
			mem := vectorstore.NewMemoryStore()
			vector = mem
			sharedStore.SetVectorIndexer(mem)
		}

		needsRebuild, err := sharedStore.Load()
		if err != nil {
			logger.Warn("Failed to load index, starting empty", map[string]interface{}{
				"error": err.Error(),
			})
			needsRebuild = true
		}
		indexNeedsRebuild = needsRebuild

		sharedBuild = repoindex.NewBuilder(repoRoot, cfg.Indexer.ExcludeGlobs, repoindex.DefaultChunkConfig(), logger)

		engineCfg := repoindex.EngineConfig{
			QueryTimeout:       time.Duration(cfg.Indexer.QueryTimeoutMs) * time.Millisecond,
			HybridBM25Weight:   cfg.Indexer.HybridWeights.BM25,
			HybridVectorWeight: cfg.Indexer.HybridWeights.Vector,
			QueryCacheSize:     cfg.Indexer.QueryCacheSize,
			QueryCacheTTL:      time.Duration(cfg.Indexer.QueryCacheTTLMs) * time.Millisecond,
			DegradedLatency:    time.Duration(cfg.Indexer.DegradedLatencyMs) * time.Millisecond,
			DegradedWindow:     cfg.Indexer.DegradedWindow,
		}
		sharedEngine = repoindex.NewEngine(sharedStore, vector, engineCfg, logger)
	})
	return sharedStore, sharedBuild, sharedEngine, indexErr
}

func mustGetIndexer(repoRoot string, logger *logging.Logger) (*repoindex.Store, *repoindex.Builder, *repoindex.Engine) {
	store, build, engine, err := getIndexer(repoRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing indexer: %v\n", err)
		os.Exit(1)
	}
	return store, build, engine
}

// newMaintainer builds a Maintainer wired to the shared store/builder.
func newMaintainer(repoRoot string, logger *logging.Logger) *maintenance.Maintainer {
	cfg, err := getConfig(repoRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, build, _ := mustGetIndexer(repoRoot, logger)

	wcfg := watcher.DefaultConfig()
	wcfg.IgnorePatterns = cfg.Indexer.ExcludeGlobs
	mcfg := maintenance.FromIndexerConfig(cfg.Indexer)
	mcfg.RemoteLog = cfg.Logging.Remote
	return maintenance.New(repoRoot, store, build, mcfg, wcfg, logger)
}

// getRepoRoot returns the repository root directory.
func getRepoRoot() (string, error) {
	return os.Getwd()
}

// mustGetRepoRoot returns the repository root or exits on error.
func mustGetRepoRoot() string {
	repoRoot, err := getRepoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return repoRoot
}

// newContext creates a new context for command execution.
func newContext() context.Context {
	return context.Background()
}

// newLogger creates a logger with the specified format.
func newLogger(format string) *logging.Logger {
	logFormat := logging.HumanFormat
	if format == "json" {
		logFormat = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: logFormat,
		Level:  logging.InfoLevel,
	})
}
