package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/tracing"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

// DefaultDeadline bounds a whole fan-out.
const DefaultDeadline = 3 * time.Second

// Outcome is the merged result of one fan-out.
//
// Candidates are flattened in configured provider order. The same document
// returned by two providers appears twice; each copy carries its provider id.
type Outcome struct {
	Candidates []candidate.Candidate
	Reports    []result.ProviderReport
	Queried    int
	Succeeded  int
}

// AllFailed reports whether no provider produced a real result.
func (o Outcome) AllFailed() bool { return o.Succeeded == 0 }

// Orchestrator fans a request out to every enabled, requested provider under
// one shared deadline. Individual failures never fail the fan-out.
type Orchestrator struct {
	providers Providers
	levels    LevelSource
	deadline  time.Duration
	logger    *zap.Logger
}

// New creates an Orchestrator. levels may be nil; deadline <= 0 selects DefaultDeadline.
func New(providers Providers, levels LevelSource, deadline time.Duration, logger *zap.Logger) *Orchestrator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{providers: providers, levels: levels, deadline: deadline, logger: logger}
}

// Deadline returns the shared fan-out deadline.
func (o *Orchestrator) Deadline() time.Duration { return o.deadline }

// selected returns the adapters to query. In emergency mode only local ones run.
func (o *Orchestrator) selected(req *request.Request) []provider.Adapter {
	emergency := o.levels != nil && o.levels.Level() >= resilience.LevelEmergency
	var out []provider.Adapter
	for _, a := range o.providers.Adapters() {
		if !a.Enabled() || !req.WantsSource(a.Name()) {
			continue
		}
		if emergency && !a.Local() {
			continue
		}
		out = append(out, a)
	}
	return out
}

type slot struct {
	res  provider.Result
	err  error
	took time.Duration
	done bool
}

// Search queries providers concurrently and returns whatever completed before
// the deadline. Late results are discarded.
func (o *Orchestrator) Search(ctx context.Context, req *request.Request) Outcome {
	adapters := o.selected(req)

	ctx, span := tracing.Start(ctx, "orchestrator.fan_out", trace.WithAttributes(
		attribute.Int("providers", len(adapters)),
		attribute.Int64("deadline_ms", o.deadline.Milliseconds()),
	))
	defer span.End()

	if len(adapters) == 0 {
		o.logger.Warn("No providers available for request", zap.Strings("sources", req.Sources()))
		return Outcome{Candidates: []candidate.Candidate{}, Reports: []result.ProviderReport{}}
	}

	dctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	var (
		mu     sync.Mutex
		closed bool
		slots  = make([]slot, len(adapters))
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(dctx)
	for i, a := range adapters {
		g.Go(func() error {
			res, err := safeSearch(gctx, a, req)
			took := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			if closed {
				o.logger.Debug("Discarding late provider result",
					zap.String("provider", a.Name()),
					zap.Duration("took", took),
				)
				return nil
			}
			slots[i] = slot{res: res, err: err, took: took, done: true}
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-dctx.Done():
	}

	mu.Lock()
	closed = true
	snapshot := append([]slot(nil), slots...)
	mu.Unlock()

	out := o.merge(adapters, snapshot, time.Since(start))
	span.SetAttributes(
		attribute.Int("succeeded", out.Succeeded),
		attribute.Int("candidates", len(out.Candidates)),
	)
	return out
}

func (o *Orchestrator) merge(adapters []provider.Adapter, slots []slot, elapsed time.Duration) Outcome {
	out := Outcome{
		Candidates: []candidate.Candidate{},
		Reports:    make([]result.ProviderReport, len(adapters)),
		Queried:    len(adapters),
	}
	for i, a := range adapters {
		s := slots[i]
		rep := result.ProviderReport{Provider: a.Name()}
		switch {
		case !s.done:
			rep.TimedOut = true
			rep.DurationMs = elapsed.Milliseconds()
			rep.Error = "deadline exceeded"
			o.logger.Warn("Provider missed fan-out deadline",
				zap.String("provider", a.Name()),
				zap.Duration("deadline", o.deadline),
			)
		case s.err != nil:
			rep.DurationMs = s.took.Milliseconds()
			rep.Error = s.err.Error()
			rep.TimedOut = errors.Is(s.err, context.DeadlineExceeded)
			fe := failure.Classify(s.err)
			o.logger.Warn("Provider failed",
				zap.String("provider", a.Name()),
				zap.String("category", string(fe.Category)),
				zap.Bool("retryable", fe.Retryable),
				zap.Int("attempts", fe.Attempts),
				zap.Error(s.err),
			)
		default:
			rep.DurationMs = s.took.Milliseconds()
			rep.Tier = s.res.Tier
			rep.Degraded = s.res.Degraded
			rep.Results = len(s.res.Candidates)
			if s.res.Failed() {
				rep.Error = s.res.Err.Error()
			} else {
				out.Succeeded++
			}
			out.Candidates = append(out.Candidates, s.res.Candidates...)
		}
		out.Reports[i] = rep
	}
	return out
}

// safeSearch turns an adapter panic into an error.
func safeSearch(ctx context.Context, a provider.Adapter, req *request.Request) (res provider.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", a.Name(), r)
		}
	}()
	return a.Search(ctx, req)
}
