package health

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates that no enabled provider can serve searches.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckDisabled marks a provider without configuration.
	CheckDisabled CheckResult = "disabled"
)

// Report aggregates health check results.
type Report struct {
	Status    Status
	Checks    map[string]CheckResult
	Providers []provider.Health
}

// Service coordinates health checks.
type Service struct {
	providers Providers
	embedding EmbeddingChecker
}

// New creates a Service. embedding can be nil.
func New(providers Providers, embedding EmbeddingChecker) *Service {
	return &Service{providers: providers, embedding: embedding}
}

// Provider checks a single provider. Unknown names return domain.ErrUnknownProvider.
func (s *Service) Provider(ctx context.Context, name string) (provider.Health, error) {
	a, err := s.providers.Get(name)
	if err != nil {
		return provider.Health{}, fmt.Errorf("health check: %w", err)
	}
	return a.HealthCheck(ctx), nil
}

// Check queries every provider concurrently and the embedding service.
// Disabled providers are reported but do not affect the status.
func (s *Service) Check(ctx context.Context) Report {
	adapters := s.providers.Adapters()
	healths := make([]provider.Health, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			healths[i] = a.HealthCheck(gctx)
			return nil
		})
	}

	var (
		embMu  sync.Mutex
		embErr error
	)
	if s.embedding != nil {
		g.Go(func() error {
			err := s.embedding.HealthCheck(gctx)
			embMu.Lock()
			embErr = err
			embMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]CheckResult, len(adapters)+1)
	enabled, healthy := 0, 0
	for i, a := range adapters {
		switch {
		case !a.Enabled():
			checks[a.Name()] = CheckDisabled
		case healths[i].Healthy:
			enabled++
			healthy++
			checks[a.Name()] = CheckOK
		default:
			enabled++
			checks[a.Name()] = CheckError
		}
	}

	if s.embedding != nil {
		if embErr != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	status := Healthy
	switch {
	case healthy == 0:
		status = Unhealthy
	case healthy < enabled || checks["embedding"] == CheckError:
		status = Degraded
	}

	return Report{Status: status, Checks: checks, Providers: healths}
}
