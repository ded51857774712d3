package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agent"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/cache"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/handler"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/logger"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/mode"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/personalize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/redisclient"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/router"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/smartrouter"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/summarize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tiered"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/wtu"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("orchestrator starting")

	var redisRaw *redisclient.Client
	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — continuing without Redis")
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing without Redis")
	} else {
		redisRaw = rc
		log.Info().Msg("redis connected")
	}

	cat := catalog.New(log, catalog.NewStaticSource(defaultCatalogEntries()), cfg.CatalogRefreshInterval)

	accountant := newAccountant(cfg, log, cat)

	tracer := tracing.NewTracer(log)
	gateways := llmgateway.NewRegistry(log, tracer)
	registerProviders(cfg, gateways, log)

	callLogSink := tiered.NewInMemoryCallLogSink()
	tieredCaller := tiered.New(log, cat, gateways, tracer, callLogSink)

	cacheEngine := newCacheEngine(cfg, log, redisRaw)

	personalizer := personalize.New(personalize.Weights{
		Personalization: cfg.PersonalizationWeightHistory,
		Recency:         cfg.PersonalizationWeightRecency,
		Popularity:      cfg.PersonalizationWeightPopularity,
	}, cfg.PersonalizationNormConstant)
	tagStore := personalize.NewInMemoryTagStore()

	// No Embedder implementation exists yet — that's an external
	// collaborator (embedding service) outside this service's scope. The
	// pipeline degrades gracefully without it.
	summarizer := summarize.New(log, tieredCaller, cacheEngine, personalizer, accountant, tagStore, nil, tagStore)

	contexts := agentctx.New(log, cfg.ContextMaxAge)
	contexts.StartJanitor(cfg.ContextSweepInterval)
	defer contexts.Stop()

	catalogSelector := agent.NewCatalogSelector(log, cat)
	coordinator := agent.New(log, catalogSelector, accountant, tracer)
	// No concrete Agent implementations are registered here: agent
	// execution bodies (content analysis, summary generation, etc.) are
	// provided by whatever callers integrate against this coordinator.

	performance := mode.NewInMemoryPerformanceStore()

	// No PreferencesLookup implementation exists yet — the selector
	// falls back to balanced/medium defaults without one.
	modes := mode.New(log, performance, accountant, nil)

	// No legacy routing adapter exists; the router skips the legacy
	// rule-based fallback path.
	smartRouter := smartrouter.New(log, modes, nil, contexts, coordinator)

	h := handler.New(log, summarizer, modes, smartRouter, accountant, gateways)
	r := router.New(cfg, log, h)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("orchestrator stopped gracefully")
	}
}

func newAccountant(cfg *config.Config, log zerolog.Logger, cat *catalog.Catalog) *wtu.Accountant {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("no DATABASE_URL set — using in-memory WTU store")
		return wtu.NewAccountant(log, wtu.NewInMemoryStore(cfg.DefaultMonthlyQuotaWTU), cat)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("postgres pool init failed — falling back to in-memory WTU store")
		return wtu.NewAccountant(log, wtu.NewInMemoryStore(cfg.DefaultMonthlyQuotaWTU), cat)
	}
	log.Info().Msg("postgres WTU store connected")
	return wtu.NewAccountant(log, wtu.NewPostgresStore(pool, cfg.DefaultMonthlyQuotaWTU), cat)
}

func newCacheEngine(cfg *config.Config, log zerolog.Logger, rc *redisclient.Client) *cache.Engine {
	if rc == nil {
		log.Info().Msg("no Redis connection — using in-memory summary cache")
		return cache.New(log, cache.NewInMemoryStore(), cfg.CacheTTL)
	}
	return cache.New(log, cache.NewRedisStore(rc.Raw(), cfg.CacheTTL), cfg.CacheTTL)
}

func registerProviders(cfg *config.Config, registry *llmgateway.Registry, log zerolog.Logger) {
	if cfg.OpenAIAPIKey != "" {
		registry.Register(llmgateway.NewOpenAIProvider(cfg.OpenAIAPIKey, log))
		log.Info().Msg("registered openai provider")
	}
	if cfg.AnthropicAPIKey != "" {
		registry.Register(llmgateway.NewAnthropicProvider(cfg.AnthropicAPIKey, log))
		log.Info().Msg("registered anthropic provider")
	}
	if cfg.GoogleAPIKey != "" {
		registry.Register(llmgateway.NewGoogleProvider(cfg.GoogleAPIKey, log))
		log.Info().Msg("registered google provider")
	}
	if cfg.PerplexityAPIKey != "" {
		registry.Register(llmgateway.NewPerplexityProvider(cfg.PerplexityAPIKey, log))
		log.Info().Msg("registered perplexity provider")
	}
	log.Info().Int("providers", len(registry.List())).Msg("provider registration complete")
}

func defaultCatalogEntries() []catalog.ModelEntry {
	return []catalog.ModelEntry{
		{ID: "gpt-4o-mini", Alias: "light", Provider: catalog.ProviderOpenAI, Model: "gpt-4o-mini", Tier: catalog.TierLight, InputWTUMultiplier: 1.0, OutputWTUMultiplier: 1.0, IsActive: true, Order: 0},
		{ID: "gpt-4o", Alias: "standard", Provider: catalog.ProviderOpenAI, Model: "gpt-4o", Tier: catalog.TierStandard, InputWTUMultiplier: 3.0, OutputWTUMultiplier: 3.0, IsActive: true, Order: 0},
		{ID: "claude-sonnet", Alias: "premium", Provider: catalog.ProviderAnthropic, Model: "claude-sonnet-4-5", Tier: catalog.TierPremium, InputWTUMultiplier: 8.0, OutputWTUMultiplier: 8.0, IsActive: true, Order: 0},
		{ID: "sonar", Alias: "search", Provider: catalog.ProviderPerplexity, Model: "sonar", Tier: catalog.TierSearch, InputWTUMultiplier: 2.0, OutputWTUMultiplier: 2.0, IsActive: true, Order: 0},
		{ID: "text-embedding-3-small", Alias: "embedding", Provider: catalog.ProviderOpenAI, Model: "text-embedding-3-small", Tier: catalog.TierEmbedding, InputWTUMultiplier: 0.1, OutputWTUMultiplier: 0, IsActive: true, Order: 0},
	}
}
