package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

// Fallback tier names.
const (
	TierEmbedding = "embedding"
	TierSemantic  = "semantic"
	TierKeyword   = "keyword"
)

// GuardedOptions configures a Guarded adapter.
type GuardedOptions struct {
	Local bool
	// TierTimeout bounds each fallback tier. Zero leaves tiers bounded by the caller.
	TierTimeout time.Duration
}

// Guarded protects any Backend with retry, circuit breaking and a per-provider
// fallback chain: precomputed embedding, then generated embedding, then keyword
// search, then an empty degraded result.
type Guarded struct {
	backend Backend
	embed   Embedder
	retrier *resilience.Retrier
	breaker *resilience.Breaker
	opts    GuardedOptions
	logger  *zap.Logger
}

var _ Adapter = (*Guarded)(nil)

// NewGuarded wraps a backend. embed may be nil when the provider only serves
// precomputed vectors or keyword search.
func NewGuarded(
	backend Backend, embed Embedder,
	retrier *resilience.Retrier, breaker *resilience.Breaker,
	opts GuardedOptions, logger *zap.Logger,
) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{
		backend: backend,
		embed:   embed,
		retrier: retrier,
		breaker: breaker,
		opts:    opts,
		logger:  logger.With(zap.String("provider", backend.Name())),
	}
}

// Name returns the backend name.
func (g *Guarded) Name() string { return g.backend.Name() }

// Enabled is always true: disabled providers are represented by Disabled.
func (g *Guarded) Enabled() bool { return true }

// Local reports whether the backend runs in-process.
func (g *Guarded) Local() bool { return g.opts.Local }

// Breaker exposes the provider breaker for admin operations.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

// Search runs the fallback chain. Tier failures are absorbed into a degraded
// empty result; only a cancelled caller surfaces as an error.
func (g *Guarded) Search(ctx context.Context, req *request.Request) (Result, error) {
	q := Query{Text: req.Query(), Limit: req.MaxResults(), Threshold: req.Threshold()}
	empty := []candidate.Candidate{}

	ks, hasKeyword := g.backend.(KeywordSearcher)

	tiers := []resilience.Tier[[]candidate.Candidate]{
		{
			Name:      TierEmbedding,
			Priority:  0,
			Timeout:   g.opts.TierTimeout,
			Available: func(context.Context) bool { return req.HasEmbedding() },
			Execute: func(ctx context.Context) ([]candidate.Candidate, error) {
				return g.protected(ctx, TierEmbedding, func(ctx context.Context) ([]candidate.Candidate, error) {
					return g.backend.SearchByEmbedding(ctx, req.Embedding(), q)
				})
			},
		},
		{
			Name:      TierSemantic,
			Priority:  1,
			Timeout:   g.opts.TierTimeout,
			Available: func(context.Context) bool { return g.embed != nil },
			Execute: func(ctx context.Context) ([]candidate.Candidate, error) {
				vec, err := g.embedQuery(ctx, req.Query())
				if err != nil {
					return nil, err
				}
				return g.protected(ctx, TierSemantic, func(ctx context.Context) ([]candidate.Candidate, error) {
					return g.backend.SearchByEmbedding(ctx, vec, q)
				})
			},
		},
		{
			Name:      TierKeyword,
			Priority:  2,
			Timeout:   g.opts.TierTimeout,
			Available: func(context.Context) bool { return hasKeyword },
			Execute: func(ctx context.Context) ([]candidate.Candidate, error) {
				return g.protected(ctx, TierKeyword, func(ctx context.Context) ([]candidate.Candidate, error) {
					return ks.SearchByText(ctx, q)
				})
			},
			Fallback: &empty,
		},
	}

	out, err := resilience.RunChain(ctx, g.logger, g.Name()+".search", tiers)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", g.Name(), err)
	}

	res := Result{Candidates: out.Value, Tier: out.Tier, Degraded: out.Degraded}
	if out.Tier == resilience.FallbackTier {
		res.Err = lastAttemptErr(out.Attempts, g.Name())
	}
	return res, nil
}

// protected runs op through the breaker, retried per the classified policy.
// Breaker rejections are classified non-retryable and stop the retry loop.
func (g *Guarded) protected(
	ctx context.Context, tier string, op func(ctx context.Context) ([]candidate.Candidate, error),
) ([]candidate.Candidate, error) {
	return resilience.Retry(ctx, g.retrier, g.Name()+"."+tier, func(ctx context.Context) ([]candidate.Candidate, error) {
		return resilience.Guard(ctx, g.breaker, op)
	})
}

func (g *Guarded) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := resilience.Retry(ctx, g.retrier, g.Name()+".embed", func(ctx context.Context) ([]float32, error) {
		res, err := g.embed.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
		}
		return res.Embedding, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// HealthCheck pings the backend directly, bypassing the breaker.
func (g *Guarded) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	err := g.backend.Ping(ctx)
	h := Health{Provider: g.Name(), Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

func lastAttemptErr(attempts []resilience.TierAttempt, name string) error {
	if len(attempts) == 0 {
		return fmt.Errorf("%s: %w", name, domain.ErrNoProviderAvailable)
	}
	last := attempts[len(attempts)-1]
	return fmt.Errorf("%s %s tier: %w", name, last.Tier, last.Err)
}
