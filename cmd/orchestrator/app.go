package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/liamcoop/loanorchestrator/decision"
	"github.com/liamcoop/loanorchestrator/internal/config"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/sentiment"
	"github.com/liamcoop/loanorchestrator/steps"
)

// app bundles the collaborators every subcommand needs.
type app struct {
	cfg      *config.Config
	store    decision.Store
	executor *decision.Executor
	db       *sql.DB
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

// newApp builds the store, registry and executor described by cfg. An empty database
// URL selects the in-memory store.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	logger.SetSampleRate(cfg.Log.SampleRate)

	policy, err := decision.ParseLockPolicy(cfg.Database.LockPolicy)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	var store decision.Store
	if cfg.Database.URL != "" {
		db, err := decision.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.db = db
		store = decision.NewPostgresStore(db, policy)
		logger.Info("using postgres store", "lock_policy", policy)
	} else {
		store = decision.NewMemoryStore(policy)
		logger.Info("using in-memory store", "lock_policy", policy)
	}

	var cache decision.PipelineCache
	if cfg.PipelineCache.TTL > 0 {
		cache = decision.NewInMemoryPipelineCache(decision.CacheConfig{TTL: cfg.PipelineCache.TTL})
	}
	a.store = decision.NewCachedStore(store, cache)

	a.executor = decision.NewExecutor(a.store, steps.DefaultRegistry(newClassifier(cfg)))
	return a, nil
}

// newClassifier returns the remote sentiment classifier, or nil when no API key is
// configured, in which case llm-mode steps fall back to keywords.
func newClassifier(cfg *config.Config) sentiment.Classifier {
	if strings.TrimSpace(cfg.Sentiment.APIKey) == "" {
		logger.Warn("no sentiment API key configured, llm sentiment checks will use keywords")
		return nil
	}
	return &sentiment.ChatClassifier{
		BaseURL: cfg.Sentiment.BaseURL,
		APIKey:  cfg.Sentiment.APIKey,
		Model:   cfg.Sentiment.Model,
		Title:   "loan-orchestrator",
		Timeout: cfg.Sentiment.Timeout,
	}
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
