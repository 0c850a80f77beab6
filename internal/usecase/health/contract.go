package health

import (
	"context"

	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Providers exposes the registered adapters.
type Providers interface {
	Adapters() []provider.Adapter
	Get(name string) (provider.Adapter, error)
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
