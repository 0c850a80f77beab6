package provider

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
)

// Disabled stands in for a provider without usable configuration.
// Every call fails fast with a CONFIGURATION error; no network call is made.
type Disabled struct {
	name   string
	reason string
}

var _ Adapter = (*Disabled)(nil)

// NewDisabled creates a disabled adapter. reason explains the missing configuration.
func NewDisabled(name, reason string) *Disabled {
	return &Disabled{name: name, reason: reason}
}

func (d *Disabled) Name() string  { return d.name }
func (d *Disabled) Enabled() bool { return false }
func (d *Disabled) Local() bool   { return false }

func (d *Disabled) err() error {
	return failure.Mark(fmt.Errorf("%s: %s: %w", d.name, d.reason, domain.ErrProviderDisabled), failure.Configuration)
}

// Search always fails.
func (d *Disabled) Search(context.Context, *request.Request) (Result, error) {
	return Result{}, d.err()
}

// HealthCheck always reports unhealthy.
func (d *Disabled) HealthCheck(context.Context) Health {
	return Health{Provider: d.name, Healthy: false, Error: d.err().Error()}
}
