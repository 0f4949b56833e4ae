package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/acquire"
	"github.com/leadfoundry/leadgen-cli/internal/classify"
	"github.com/leadfoundry/leadgen-cli/internal/contacts"
	"github.com/leadfoundry/leadgen-cli/internal/pipeline"
	"github.com/leadfoundry/leadgen-cli/internal/ratelimit"
	"github.com/leadfoundry/leadgen-cli/internal/registry"
	"github.com/leadfoundry/leadgen-cli/internal/store"
	"github.com/leadfoundry/leadgen-cli/internal/webpage"
	anthropicpkg "github.com/leadfoundry/leadgen-cli/pkg/anthropic"
	"github.com/leadfoundry/leadgen-cli/pkg/receitaws"
	"github.com/leadfoundry/leadgen-cli/pkg/search"
)

// pipelineEnv holds the initialized store and clients used by the
// run/batch/serve commands. NewPipeline builds a pipeline over them; the
// listing feed keeps per-query scroll state, so every invocation must get
// its own.
type pipelineEnv struct {
	Store       store.Store
	NewPipeline func() *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the enrichment clients, and the pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	session := webpage.NewSession(time.Duration(cfg.Contacts.PageTimeoutSecs) * time.Second)

	// The registry API free tier is strictly throttled, every request goes
	// through the shared limiter.
	limiter := ratelimit.NewKeyed(0)
	limiter.SetInterval(receitaws.LimiterKey, time.Duration(cfg.Registry.MinIntervalSecs)*time.Second)

	registryClient := receitaws.NewClient(limiter,
		receitaws.WithBaseURL(cfg.Registry.BaseURL),
		receitaws.WithCooldown(time.Duration(cfg.Registry.CooldownSecs)*time.Second),
	)

	searchClient := search.NewClient(search.WithBaseURL(cfg.Search.BaseURL))
	locator := registry.NewLocator(searchClient, session)
	extractor := contacts.NewExtractor(session)

	var classifier pipeline.Classifier
	if cfg.Anthropic.Key != "" {
		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		classifier = classify.NewClassifier(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, session)
		zap.L().Info("sector classification enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("LEADGEN_ANTHROPIC_KEY not set, sector classification disabled")
	}

	newPipeline := func() *pipeline.Pipeline {
		feed := acquire.NewHTTPFeed(cfg.Acquire.FeedURL, time.Duration(cfg.Contacts.PageTimeoutSecs)*time.Second)
		engine := acquire.NewEngine(feed, acquire.Options{
			StaleThreshold: cfg.Acquire.StaleThreshold,
			ScrollDelta:    cfg.Acquire.ScrollDelta,
			MinDelay:       time.Duration(cfg.Acquire.MinDelayMillis) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Acquire.MaxDelayMillis) * time.Millisecond,
		})
		return pipeline.New(engine, classifier, locator, registryClient, extractor, st)
	}

	return &pipelineEnv{
		Store:       st,
		NewPipeline: newPipeline,
	}, nil
}
