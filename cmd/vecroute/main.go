package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/config"
	dbRedis "github.com/kailas-cloud/vecroute/internal/db/redis"
	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/vecroute/internal/logger"
	"github.com/kailas-cloud/vecroute/internal/metrics"
	"github.com/kailas-cloud/vecroute/internal/repository/embcache"
	"github.com/kailas-cloud/vecroute/internal/repository/memory"
	"github.com/kailas-cloud/vecroute/internal/repository/milvus"
	"github.com/kailas-cloud/vecroute/internal/repository/pgvector"
	"github.com/kailas-cloud/vecroute/internal/repository/redisvec"
	"github.com/kailas-cloud/vecroute/internal/repository/rescache"
	"github.com/kailas-cloud/vecroute/internal/tracing"
	chiTransport "github.com/kailas-cloud/vecroute/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/vecroute/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/vecroute/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecroute/internal/usecase/health"
	"github.com/kailas-cloud/vecroute/internal/usecase/orchestrator"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
	searchuc "github.com/kailas-cloud/vecroute/internal/usecase/search"
	"github.com/kailas-cloud/vecroute/internal/version"
)

// Provider ids, in fan-out order.
const (
	providerMemory   = "memory"
	providerPGVector = "pgvector"
	providerRedis    = "redis"
	providerMilvus   = "milvus"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vecroute API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("redis_addrs", cfg.Redis.Addrs),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	}, version.Version)
	if err != nil {
		logger.Fatal("Failed to init tracing", zap.Error(err))
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Shared Redis connection: embedding cache, result cache L2, redis provider
	var store *dbRedis.Store
	if cfg.Redis.Enabled() {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Redis not ready", zap.Error(err))
		}
		logger.Info("Connected to redis")
	}

	embedder, embHealth := buildEmbedder(cfg.Embedding, store, logger)

	registry := provider.NewRegistry()
	closers := buildProviders(ctx, cfg, registry, store, embedder, logger)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("Provider close failed", zap.Error(err))
			}
		}
	}()

	degradation := resilience.NewDegradation(cfg.Degradation.MaxLevel, logger)
	fanout := orchestrator.New(registry, degradation, cfg.Search.Deadline(), logger)

	feedback := scoring.NewFeedback()
	heuristicCfg := scoring.HeuristicConfig{TemporalScoring: *cfg.Search.TemporalScoring}
	if *cfg.Search.UserFeedback {
		heuristicCfg.Feedback = feedback
	}
	engine := scoring.NewEngine(scoring.NewHeuristic(heuristicCfg), cfg.Search.Weights, logger)

	l1 := rescache.New[result.Response](rescache.Config{MaxSize: cfg.Cache.MaxSize, DefaultTTL: cfg.Cache.TTL()})
	var cache *rescache.Tiered[result.Response]
	if cfg.Cache.Shared {
		cache = rescache.NewTiered(l1, store, cfg.Cache.TTL(), metrics.ResultCacheTotal, logger)
	} else {
		cache = rescache.NewTiered[result.Response](l1, nil, cfg.Cache.TTL(), metrics.ResultCacheTotal, logger)
	}
	cache.StartSweeper(ctx, cfg.Cache.SweepInterval())

	searchSvc := searchuc.New(fanout, engine, cache, degradation, registry, logger)

	// Pass nil interface (not typed nil pointer!) when embedding is disabled.
	var embChecker healthuc.EmbeddingChecker
	if embHealth != nil {
		embChecker = embHealth
	}
	healthSvc := healthuc.New(registry, embChecker)

	server := chiTransport.NewServer(searchSvc, healthSvc, feedback, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Shared.
// Returns nil when no API key is configured; providers then serve keyword search only.
func buildEmbedder(cfg config.EmbeddingConfig, store *dbRedis.Store, logger *zap.Logger) (domain.Embedder, *openaiEmb.Embedder) {
	if !cfg.Enabled() {
		logger.Warn("Embedding disabled: no api key configured")
		return nil, nil
	}

	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, cfg.Model, cfg.CacheTTL(), metrics.EmbeddingCacheTotal, logger)
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, logger)

	logger.Info("Embedder created",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions),
	)
	// outermost: concurrent providers embedding the same query share one call
	return embeddinguc.NewShared(embedder), base
}

// buildProviders registers every provider in fan-out order. Providers without
// configuration, or whose connection fails at startup, are registered disabled.
// Returns close funcs for the opened backends.
func buildProviders(
	ctx context.Context,
	cfg config.Config,
	registry *provider.Registry,
	store *dbRedis.Store,
	embedder domain.Embedder,
	logger *zap.Logger,
) []func() error {
	var closers []func() error
	guard := func(backend provider.Backend, local bool) {
		registerGuarded(registry, backend, embedder, cfg, local, logger)
	}
	disable := func(name, reason string) {
		logger.Warn("Provider disabled", zap.String("provider", name), zap.String("reason", reason))
		mustRegister(registry, provider.NewDisabled(name, reason), nil, logger)
	}

	// memory
	var mem *memory.Store
	if cfg.Providers.Memory.Enabled {
		mem = memory.New(providerMemory)
		if path := cfg.Providers.Memory.SeedFile; path != "" {
			n, err := memory.LoadSeed(ctx, mem, path, embedder, logger)
			if err != nil {
				logger.Fatal("Failed to load seed file", zap.String("path", path), zap.Error(err))
			}
			logger.Info("Seed documents loaded", zap.Int("documents", n))
		}
		guard(mem, true)
	} else {
		disable(providerMemory, "providers.memory.enabled is false")
	}

	// pgvector
	if pg := cfg.Providers.PGVector; pg.DSN != "" {
		s, err := pgvector.Open(providerPGVector, pgvector.Config{
			DSN:              pg.DSN,
			Table:            pg.Table,
			TextSearchConfig: pg.TextSearchConfig,
			MaxOpenConns:     pg.MaxOpenConns,
		})
		if err != nil {
			disable(providerPGVector, err.Error())
		} else {
			closers = append(closers, s.Close)
			guard(s, false)
		}
	} else {
		disable(providerPGVector, "providers.pgvector.dsn is empty")
	}

	// redis
	switch {
	case !cfg.Providers.Redis.Enabled:
		disable(providerRedis, "providers.redis.enabled is false")
	case store == nil:
		disable(providerRedis, "redis.addrs is empty")
	default:
		rs := redisvec.New(providerRedis, store)
		if err := rs.EnsureIndex(ctx, cfg.Embedding.Dimensions); err != nil {
			disable(providerRedis, err.Error())
			break
		}
		if cfg.Providers.Redis.IndexSeed && mem != nil {
			if err := rs.Index(ctx, mem.Documents()); err != nil {
				logger.Warn("Failed to index seed documents into redis", zap.Error(err))
			}
		}
		guard(rs, false)
	}

	// milvus
	if mv := cfg.Providers.Milvus; mv.Address != "" {
		s, err := milvus.Connect(ctx, providerMilvus, milvus.Config{
			Address:    mv.Address,
			Username:   mv.Username,
			Password:   mv.Password,
			Collection: mv.Collection,
			EF:         mv.EF,
		})
		if err != nil {
			disable(providerMilvus, err.Error())
		} else {
			closers = append(closers, s.Close)
			guard(s, false)
		}
	} else {
		disable(providerMilvus, "providers.milvus.address is empty")
	}

	return closers
}

// registerGuarded wraps backend with its own retrier and breaker, instruments it
// and registers it.
func registerGuarded(
	registry *provider.Registry,
	backend provider.Backend,
	embedder domain.Embedder,
	cfg config.Config,
	local bool,
	logger *zap.Logger,
) {
	name := backend.Name()
	rc := cfg.Resilience.Retry
	bc := cfg.Resilience.Breaker

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxRetries:        rc.MaxRetries,
		AttemptTimeout:    time.Duration(rc.AttemptTimeoutMs) * time.Millisecond,
		BackoffMultiplier: rc.Multiplier,
	}, logger)

	breaker := resilience.NewBreaker(name, resilience.BreakerConfig{
		FailureThreshold:  bc.FailureThreshold,
		SuccessThreshold:  bc.SuccessThreshold,
		RecoveryTimeout:   time.Duration(bc.RecoveryTimeoutSec) * time.Second,
		MonitorWindow:     time.Duration(bc.MonitorWindowSec) * time.Second,
		MinimumThroughput: bc.MinimumThroughput,
	}, logger, resilience.WithStateChange(func(name string, _, to resilience.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(string(to)))
		metrics.CircuitBreakerTransitionsTotal.WithLabelValues(name, string(to)).Inc()
	}))
	metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(string(resilience.Closed)))

	// Pass nil interface (not typed nil pointer!) when embedding is disabled.
	var embed provider.Embedder
	if embedder != nil {
		embed = embedder
	}

	guarded := provider.NewGuarded(backend, embed, retrier, breaker, provider.GuardedOptions{
		Local:       local,
		TierTimeout: cfg.Search.TierTimeout(),
	}, logger)
	mustRegister(registry, provider.Instrument(guarded, logger), breaker, logger)
	logger.Info("Provider registered", zap.String("provider", name), zap.Bool("local", local))
}

func mustRegister(registry *provider.Registry, a provider.Adapter, breaker *resilience.Breaker, logger *zap.Logger) {
	if err := registry.Register(a, breaker); err != nil {
		logger.Fatal("Failed to register provider", zap.Error(err))
	}
}
