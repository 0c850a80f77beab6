package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/metrics"
	"github.com/kailas-cloud/vecroute/internal/tracing"
)

// Instrumented wraps an Adapter with metrics, a trace span and a log line per search.
// It is applied once at construction time.
type Instrumented struct {
	Adapter
	logger *zap.Logger
}

// Instrument decorates a.
func Instrument(a Adapter, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{Adapter: a, logger: logger}
}

// Unwrap returns the decorated adapter.
func (i *Instrumented) Unwrap() Adapter { return i.Adapter }

// Search delegates and records the outcome.
func (i *Instrumented) Search(ctx context.Context, req *request.Request) (Result, error) {
	name := i.Name()
	ctx, span := tracing.Start(ctx, "provider.search", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.Int("max_results", req.MaxResults()),
	))
	defer span.End()

	start := time.Now()
	res, err := i.Adapter.Search(ctx, req)
	duration := time.Since(start)

	metrics.ProviderRequestDuration.WithLabelValues(name).Observe(duration.Seconds())

	failErr := err
	if failErr == nil {
		failErr = res.Err
	}
	if failErr != nil {
		fe := failure.Classify(failErr)
		metrics.ProviderRequestsTotal.WithLabelValues(name, "error", res.Tier).Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(name, string(fe.Category)).Inc()
		span.RecordError(failErr)
		span.SetStatus(codes.Error, string(fe.Category))
		i.logger.Warn("Provider search failed",
			zap.String("provider", name),
			zap.String("category", string(fe.Category)),
			zap.Bool("retryable", fe.Retryable),
			zap.Int("attempts", fe.Attempts),
			zap.Duration("duration", duration),
			zap.Error(failErr),
		)
		return res, err
	}

	status := "ok"
	if res.Degraded {
		status = "degraded"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(name, status, res.Tier).Inc()
	metrics.ProviderResultsTotal.WithLabelValues(name).Add(float64(len(res.Candidates)))
	span.SetAttributes(
		attribute.String("tier", res.Tier),
		attribute.Int("results", len(res.Candidates)),
		attribute.Bool("degraded", res.Degraded),
	)
	i.logger.Debug("Provider search completed",
		zap.String("provider", name),
		zap.String("tier", res.Tier),
		zap.Int("results", len(res.Candidates)),
		zap.Bool("degraded", res.Degraded),
		zap.Duration("duration", duration),
	)
	return res, nil
}
