package orchestrator

import "github.com/kailas-cloud/vecroute/internal/usecase/provider"

// Providers lists adapters in configured order.
type Providers interface {
	Adapters() []provider.Adapter
}

// LevelSource reports the current service degradation level.
type LevelSource interface {
	Level() int
}
