package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/metrics"
	"github.com/kailas-cloud/vecroute/internal/tracing"
	"github.com/kailas-cloud/vecroute/internal/usecase/orchestrator"
	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
)

// Service is the search facade: cache lookup, fan-out, scoring, cache store.
// It never fails for search quality reasons; total provider failure yields an
// empty degraded response.
type Service struct {
	fanout   Fanout
	ranker   Ranker
	cache    ResultCache
	levels   Degrader
	breakers Breakers
	logger   *zap.Logger
	newID    func() string
}

// New creates a search service.
func New(fanout Fanout, ranker Ranker, cache ResultCache, levels Degrader, breakers Breakers, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fanout:   fanout,
		ranker:   ranker,
		cache:    cache,
		levels:   levels,
		breakers: breakers,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Search runs one request through the pipeline.
// Only a missing request or an unknown source is an error, classified VALIDATION.
func (s *Service) Search(ctx context.Context, req *request.Request) (result.Response, error) {
	if req == nil {
		return result.Response{}, failure.Mark(
			fmt.Errorf("search request is required: %w", domain.ErrInvalidRequest), failure.Validation)
	}
	if err := s.checkSources(req); err != nil {
		return result.Response{}, err
	}
	start := time.Now()
	ctx, span := tracing.Start(ctx, "search")
	defer span.End()

	key := req.Fingerprint()
	if cached, ok := s.cache.Get(ctx, key); ok {
		resp := cached.Clone()
		resp.RequestID = s.newID()
		resp.Performance.CacheHit = true
		resp.DegradationLevel = s.levels.Level()
		s.finish(&resp, start)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return resp, nil
	}

	out := s.fanout.Search(ctx, req)
	if out.AllFailed() {
		resp := s.totalFailure(out)
		s.finish(&resp, start)
		span.SetAttributes(attribute.Bool("degraded", true))
		return resp, nil
	}

	partial := out.Succeeded < out.Queried || anyDegraded(out.Reports)
	if !partial {
		s.setLevel(s.levels.Recover())
	}

	level := s.levels.Level()
	ranked := s.ranker.Rank(ctx, scoring.Input{
		Query:      req.Query(),
		Candidates: out.Candidates,
		Context:    req.Context(),
		Weights:    req.Weights(),
		MaxResults: req.MaxResults(),
		Level:      level,
	})

	resp := result.Response{
		RequestID:       s.newID(),
		Results:         ranked.Results,
		TotalResults:    len(ranked.Results),
		ScoringStrategy: ranked.Strategy,
		Performance: result.Performance{
			ParallelExecution:  true,
			ProvidersQueried:   out.Queried,
			ProvidersSucceeded: out.Succeeded,
		},
		Degraded:         partial || ranked.Strategy == result.StrategyFallback,
		DegradationLevel: level,
		Providers:        out.Reports,
	}

	// degraded responses are not cached
	if !resp.Degraded {
		s.cache.Set(ctx, key, req.Label(), resp.Clone())
	}

	s.finish(&resp, start)
	span.SetAttributes(
		attribute.Bool("cache_hit", false),
		attribute.Int("results", resp.TotalResults),
		attribute.String("strategy", resp.ScoringStrategy),
	)
	return resp, nil
}

// checkSources rejects source names no provider is registered under.
func (s *Service) checkSources(req *request.Request) error {
	for _, name := range req.Sources() {
		if _, err := s.breakers.Breaker(name); errors.Is(err, domain.ErrUnknownProvider) {
			return failure.Mark(
				fmt.Errorf("unknown source %q: %w", name, domain.ErrInvalidRequest), failure.Validation)
		}
	}
	return nil
}

func (s *Service) totalFailure(out orchestrator.Outcome) result.Response {
	// An empty fan-out is not a provider failure.
	level := s.levels.Level()
	if out.Queried > 0 {
		level = s.levels.Degrade("all providers failed")
		s.setLevel(level)
	}
	s.logger.Warn("No provider produced results, returning empty result",
		zap.Int("queried", out.Queried),
		zap.Int("degradation_level", level),
	)
	return result.Response{
		RequestID:       s.newID(),
		Results:         []result.Scored{},
		ScoringStrategy: result.StrategyFallbackOptimized,
		Performance: result.Performance{
			ParallelExecution: out.Queried > 0,
			ProvidersQueried:  out.Queried,
		},
		Degraded:         true,
		DegradationLevel: level,
		Providers:        out.Reports,
	}
}

func (s *Service) finish(resp *result.Response, start time.Time) {
	took := time.Since(start)
	resp.ProcessingTimeMs = took.Milliseconds()
	resp.Performance.SearchTimeMs = took.Milliseconds()

	cache := "miss"
	if resp.Performance.CacheHit {
		cache = "hit"
	}
	metrics.SearchRequestsTotal.WithLabelValues(resp.ScoringStrategy, cache).Inc()
	metrics.SearchDuration.Observe(took.Seconds())
}

func (s *Service) setLevel(level int) {
	metrics.DegradationLevel.Set(float64(level))
}

func anyDegraded(reports []result.ProviderReport) bool {
	for _, r := range reports {
		if r.Degraded {
			return true
		}
	}
	return false
}
