package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/crawler"
	"github.com/dataharvest/harvester/internal/discovery"
	"github.com/dataharvest/harvester/internal/extract"
	"github.com/dataharvest/harvester/internal/pipeline"
	"github.com/dataharvest/harvester/internal/store"
	anthropicpkg "github.com/dataharvest/harvester/pkg/anthropic"
	"github.com/dataharvest/harvester/pkg/websearch"
)

// pipelineEnv holds the initialized store, clients, and orchestrator shared
// by the run/bulk/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, API clients, and the orchestrator.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	// An empty search key disables the search path; discovery falls back
	// to probing candidate domains directly.
	var searchClient websearch.Client
	if cfg.Search.Key != "" {
		searchClient = websearch.NewClient(cfg.Search.Key, websearch.WithBaseURL(cfg.Search.BaseURL))
	} else {
		zap.L().Debug("HARVESTER_SEARCH_KEY not set, web search disabled")
	}

	fetcher := crawler.NewHTTPFetcher(
		time.Duration(cfg.Crawl.FetchTimeoutSecs)*time.Second,
		cfg.Crawl.RequestsPerSecond,
	)

	resolver := discovery.NewResolver(searchClient, anthropicClient, fetcher, cfg.Discovery, cfg.Anthropic)
	crawl := crawler.New(fetcher, cfg.Crawl)
	extractor := extract.NewNormalizer(anthropicClient, cfg.Extract, cfg.Anthropic)

	return &pipelineEnv{
		Store:        st,
		Orchestrator: pipeline.New(cfg, st, resolver, crawl, extractor),
	}, nil
}
