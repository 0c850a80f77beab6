package search

import (
	"context"

	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/repository/rescache"
	"github.com/kailas-cloud/vecroute/internal/usecase/orchestrator"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
)

// Fanout queries providers concurrently.
type Fanout interface {
	Search(ctx context.Context, req *request.Request) orchestrator.Outcome
}

// Ranker scores and orders merged candidates.
type Ranker interface {
	Rank(ctx context.Context, in scoring.Input) scoring.Output
}

// ResultCache stores complete responses by request fingerprint.
type ResultCache interface {
	Get(ctx context.Context, key string) (result.Response, bool)
	Set(ctx context.Context, key, label string, value result.Response)
	Clear(ctx context.Context, pattern string) int
	Stats() rescache.Stats
}

// Degrader tracks the shared degradation level.
type Degrader interface {
	Level() int
	Degrade(reason string) int
	Recover() int
}

// Breakers exposes provider circuit breakers for administration.
type Breakers interface {
	Breaker(name string) (*resilience.Breaker, error)
	BreakerMetrics() []resilience.BreakerMetrics
}
