package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// Tier is one level of a fallback chain. Lower Priority runs first.
type Tier[T any] struct {
	Name     string
	Priority int
	// Available reports whether the tier can run at all. Nil means always.
	Available func(ctx context.Context) bool
	Execute   func(ctx context.Context) (T, error)
	// Timeout bounds Execute. Zero means no tier-level timeout.
	Timeout time.Duration
	// Fallback, if set on the last tier, is returned when every tier failed.
	Fallback *T
}

// Outcome describes how a chain produced its value.
type Outcome[T any] struct {
	Value T
	// Tier is the tier that produced Value, or "fallback" for the static value.
	Tier     string
	Degraded bool
	Attempts []TierAttempt
}

// TierAttempt records one tier that ran and failed.
type TierAttempt struct {
	Tier string
	Err  error
}

// FallbackTier is the Outcome.Tier of a static fallback value.
const FallbackTier = "fallback"

// RunChain executes tiers in ascending priority until one succeeds.
func RunChain[T any](ctx context.Context, logger *zap.Logger, operation string, tiers []Tier[T]) (Outcome[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ordered := slices.Clone(tiers)
	slices.SortStableFunc(ordered, func(a, b Tier[T]) int { return a.Priority - b.Priority })

	var out Outcome[T]
	var lastErr error
	ranAny := false
	firstAvailable := true

	for _, t := range ordered {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if t.Available != nil && !t.Available(ctx) {
			continue
		}
		ranAny = true

		v, err := runTier(ctx, t)
		if err == nil {
			out.Value = v
			out.Tier = t.Name
			out.Degraded = !firstAvailable
			if out.Degraded {
				logger.Info("Fallback tier succeeded",
					zap.String("operation", operation),
					zap.String("tier", t.Name),
					zap.Int("failed_tiers", len(out.Attempts)),
				)
			}
			return out, nil
		}

		firstAvailable = false
		lastErr = err
		out.Attempts = append(out.Attempts, TierAttempt{Tier: t.Name, Err: err})
		logger.Debug("Fallback tier failed",
			zap.String("operation", operation),
			zap.String("tier", t.Name),
			zap.Error(err),
		)
	}

	if n := len(ordered); n > 0 && ordered[n-1].Fallback != nil && !errors.Is(lastErr, context.Canceled) {
		out.Value = *ordered[n-1].Fallback
		out.Tier = FallbackTier
		out.Degraded = true
		logger.Warn("All tiers failed, using fallback value",
			zap.String("operation", operation),
			zap.Error(lastErr),
		)
		return out, nil
	}

	if !ranAny && lastErr == nil {
		return out, fmt.Errorf("%s: %w", operation, domain.ErrNoProviderAvailable)
	}
	return out, lastErr
}

func runTier[T any](ctx context.Context, t Tier[T]) (T, error) {
	if t.Timeout <= 0 {
		return t.Execute(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	return t.Execute(tctx)
}
