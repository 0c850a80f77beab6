package provider

import (
	"fmt"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

// Registry holds adapters in configured order. It is built once at startup
// and read-only afterwards.
type Registry struct {
	adapters []Adapter
	byName   map[string]Adapter
	breakers map[string]*resilience.Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Adapter),
		breakers: make(map[string]*resilience.Breaker),
	}
}

// Register appends an adapter. breaker may be nil for adapters without one.
func (r *Registry) Register(a Adapter, breaker *resilience.Breaker) error {
	if _, ok := r.byName[a.Name()]; ok {
		return fmt.Errorf("provider %q registered twice", a.Name())
	}
	r.adapters = append(r.adapters, a)
	r.byName[a.Name()] = a
	if breaker != nil {
		r.breakers[a.Name()] = breaker
	}
	return nil
}

// Adapters returns adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownProvider)
	}
	return a, nil
}

// Breaker returns the breaker of name.
func (r *Registry) Breaker(name string) (*resilience.Breaker, error) {
	if _, ok := r.byName[name]; !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownProvider)
	}
	b, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("%q has no circuit breaker: %w", name, domain.ErrProviderDisabled)
	}
	return b, nil
}

// BreakerMetrics returns a snapshot per breaker, in registration order.
func (r *Registry) BreakerMetrics() []resilience.BreakerMetrics {
	out := make([]resilience.BreakerMetrics, 0, len(r.breakers))
	for _, a := range r.adapters {
		if b, ok := r.breakers[a.Name()]; ok {
			out = append(out, b.Metrics())
		}
	}
	return out
}
