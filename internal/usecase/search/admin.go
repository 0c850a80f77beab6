package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/repository/rescache"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

// Metrics is the administrative snapshot of the service.
type Metrics struct {
	Breakers         []resilience.BreakerMetrics `json:"circuit_breakers"`
	Cache            rescache.Stats              `json:"cache"`
	DegradationLevel int                         `json:"degradation_level"`
}

// ResetCircuitBreaker forces the breaker of a provider closed.
func (s *Service) ResetCircuitBreaker(name string) error {
	b, err := s.breakers.Breaker(name)
	if err != nil {
		return fmt.Errorf("reset circuit breaker: %w", err)
	}
	from := b.State()
	b.Reset()
	s.logger.Info("Circuit breaker reset",
		zap.String("provider", name),
		zap.String("from", string(from)),
	)
	return nil
}

// ClearCache drops cached responses whose key or label contains pattern.
// An empty pattern clears everything.
func (s *Service) ClearCache(ctx context.Context, pattern string) int {
	n := s.cache.Clear(ctx, pattern)
	s.logger.Info("Result cache cleared", zap.String("pattern", pattern), zap.Int("removed", n))
	return n
}

// Metrics returns breaker counters, cache statistics and the degradation level.
func (s *Service) Metrics() Metrics {
	return Metrics{
		Breakers:         s.breakers.BreakerMetrics(),
		Cache:            s.cache.Stats(),
		DegradationLevel: s.levels.Level(),
	}
}
