package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/repository/rescache"
	"github.com/kailas-cloud/vecroute/internal/usecase/orchestrator"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
	"github.com/kailas-cloud/vecroute/internal/usecase/scoring"
)

// --- Mocks ---

type stubAdapter struct {
	name     string
	disabled bool
	calls    atomic.Int32
	searchFn func() (provider.Result, error)
}

func (s *stubAdapter) Name() string  { return s.name }
func (s *stubAdapter) Enabled() bool { return !s.disabled }
func (s *stubAdapter) Local() bool   { return false }

func (s *stubAdapter) Search(context.Context, *request.Request) (provider.Result, error) {
	s.calls.Add(1)
	return s.searchFn()
}

func (s *stubAdapter) HealthCheck(context.Context) provider.Health {
	return provider.Health{Provider: s.name, Healthy: !s.disabled}
}

func returning(name string, hits ...candidate.Candidate) *stubAdapter {
	return &stubAdapter{name: name, searchFn: func() (provider.Result, error) {
		return provider.Result{Candidates: hits, Tier: provider.TierSemantic}, nil
	}}
}

func failing(name string) *stubAdapter {
	return &stubAdapter{name: name, searchFn: func() (provider.Result, error) {
		return provider.Result{}, errors.New("connection refused")
	}}
}

type fixture struct {
	svc      *Service
	registry *provider.Registry
	levels   *resilience.Degradation
}

func newFixture(t *testing.T, adapters ...*stubAdapter) *fixture {
	t.Helper()
	reg := provider.NewRegistry()
	for _, a := range adapters {
		if err := reg.Register(a, resilience.NewBreaker(a.name, resilience.DefaultBreakerConfig(), nil)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	levels := resilience.NewDegradation(0, nil)
	engine := scoring.NewEngine(scoring.NewHeuristic(scoring.HeuristicConfig{TemporalScoring: true}), scoring.DefaultWeights(), nil)
	cache := rescache.NewTiered[result.Response](rescache.New[result.Response](rescache.DefaultConfig()), nil, time.Minute, nil, nil)
	fan := orchestrator.New(reg, levels, time.Second, nil)
	return &fixture{
		svc:      New(fan, engine, cache, levels, reg, nil),
		registry: reg,
		levels:   levels,
	}
}

func newRequest(t *testing.T, p request.Params) *request.Request {
	t.Helper()
	r, err := request.New(p)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return &r
}

func hits(source string, ids ...string) []candidate.Candidate {
	out := make([]candidate.Candidate, len(ids))
	for i, id := range ids {
		out[i] = candidate.New(id, "roborail automation setup step "+id, 0.5+float64(i)/10, source, nil)
	}
	return out
}

func scenarioRequest(t *testing.T) *request.Request {
	return newRequest(t, request.Params{
		Query:      "roborail automation setup",
		MaxResults: 5,
		Sources:    []string{"providerA", "providerB"},
	})
}

// --- Tests ---

func TestSearch_MergesScoresAndTruncates(t *testing.T) {
	f := newFixture(t,
		returning("providerA", hits("providerA", "a1", "a2", "shared")...),
		returning("providerB", hits("providerB", "b1", "b2", "b3", "shared")...),
	)

	resp, err := f.svc.Search(context.Background(), scenarioRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) > 5 || len(resp.Results) == 0 {
		t.Fatalf("expected 1..5 results, got %d", len(resp.Results))
	}
	if resp.TotalResults != len(resp.Results) {
		t.Errorf("total %d != returned %d", resp.TotalResults, len(resp.Results))
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Score > resp.Results[i-1].Score {
			t.Errorf("results not ordered at %d", i)
		}
	}
	if resp.ScoringStrategy != result.StrategyMultiFactor || resp.Degraded {
		t.Errorf("unexpected strategy %q degraded=%v", resp.ScoringStrategy, resp.Degraded)
	}
	if resp.Performance.CacheHit || !resp.Performance.ParallelExecution {
		t.Errorf("unexpected performance: %+v", resp.Performance)
	}
	if resp.Performance.ProvidersQueried != 2 || resp.Performance.ProvidersSucceeded != 2 {
		t.Errorf("unexpected provider counters: %+v", resp.Performance)
	}
	if resp.RequestID == "" {
		t.Error("request id must be set")
	}
}

func TestSearch_RepeatIsCacheHit(t *testing.T) {
	a := returning("providerA", hits("providerA", "a1", "a2", "a3")...)
	f := newFixture(t, a, returning("providerB", hits("providerB", "b1")...))

	first, _ := f.svc.Search(context.Background(), scenarioRequest(t))
	second, err := f.svc.Search(context.Background(), scenarioRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !second.Performance.CacheHit {
		t.Fatal("second identical request must hit the cache")
	}
	if a.calls.Load() != 1 {
		t.Errorf("providers must not be queried on a hit, got %d calls", a.calls.Load())
	}
	if len(first.Results) != len(second.Results) {
		t.Fatalf("cached length differs")
	}
	for i := range first.Results {
		if first.Results[i].Candidate.ID() != second.Results[i].Candidate.ID() {
			t.Errorf("ordering changed at %d", i)
		}
	}
	if first.RequestID == second.RequestID {
		t.Error("each response needs its own request id")
	}
	if first.Performance.CacheHit {
		t.Error("cache hit flag must not leak into the stored response")
	}
}

func TestSearch_AllProvidersFail(t *testing.T) {
	f := newFixture(t, failing("providerA"), failing("providerB"))

	resp, err := f.svc.Search(context.Background(), scenarioRequest(t))
	if err != nil {
		t.Fatalf("total failure must not be an error: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.TotalResults != 0 {
		t.Errorf("expected empty results, got %+v", resp.Results)
	}
	if resp.ScoringStrategy != result.StrategyFallbackOptimized || !resp.Degraded {
		t.Errorf("unexpected strategy %q degraded=%v", resp.ScoringStrategy, resp.Degraded)
	}
	if f.levels.Level() != resilience.LevelReduced || resp.DegradationLevel != resilience.LevelReduced {
		t.Errorf("degradation must rise to 1, got %d", f.levels.Level())
	}
	if len(resp.Providers) != 2 || resp.Providers[0].Error == "" {
		t.Errorf("provider reports missing: %+v", resp.Providers)
	}

	again, _ := f.svc.Search(context.Background(), scenarioRequest(t))
	if again.Performance.CacheHit {
		t.Error("failed responses must not be cached")
	}
}

func TestSearch_NoProvidersEnabled(t *testing.T) {
	off := failing("providerA")
	off.disabled = true
	f := newFixture(t, off)

	for i := 0; i < 3; i++ {
		resp, err := f.svc.Search(context.Background(), newRequest(t, request.Params{Query: "roborail"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.TotalResults != 0 || resp.ScoringStrategy != result.StrategyFallbackOptimized || !resp.Degraded {
			t.Errorf("unexpected response: %+v", resp)
		}
	}
	if off.calls.Load() != 0 {
		t.Error("disabled adapters must not be called")
	}
	if f.levels.Level() != 0 {
		t.Errorf("an empty fan-out must not raise the level, got %d", f.levels.Level())
	}
}

func TestSearch_UnknownSourceRejected(t *testing.T) {
	a := returning("providerA", hits("providerA", "a1")...)
	f := newFixture(t, a)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Search(context.Background(), newRequest(t, request.Params{
			Query:   "roborail",
			Sources: []string{"nope"},
		}))
		if !errors.Is(err, domain.ErrInvalidRequest) || !failure.IsMarked(err, failure.Validation) {
			t.Fatalf("expected marked validation error, got %v", err)
		}
	}
	if f.levels.Level() != 0 {
		t.Errorf("bogus sources must not raise the level, got %d", f.levels.Level())
	}
	if a.calls.Load() != 0 {
		t.Error("a rejected request must not fan out")
	}

	resp, err := f.svc.Search(context.Background(), newRequest(t, request.Params{
		Query:   "roborail",
		Sources: []string{"providerA"},
	}))
	if err != nil || resp.TotalResults != 1 || resp.DegradationLevel != 0 {
		t.Errorf("known source must still be served: err=%v resp=%+v", err, resp)
	}
}

func TestSearch_PartialFailureIsDegradedAndNotCached(t *testing.T) {
	f := newFixture(t, returning("providerA", hits("providerA", "a1")...), failing("providerB"))

	resp, _ := f.svc.Search(context.Background(), scenarioRequest(t))
	if !resp.Degraded || resp.TotalResults != 1 {
		t.Errorf("expected degraded partial result, got %+v", resp)
	}
	if f.levels.Level() != 0 {
		t.Errorf("partial failure must not raise the level, got %d", f.levels.Level())
	}
	again, _ := f.svc.Search(context.Background(), scenarioRequest(t))
	if again.Performance.CacheHit {
		t.Error("degraded responses must not be cached")
	}
}

func TestSearch_HealthyFanoutRecovers(t *testing.T) {
	f := newFixture(t, returning("providerA", hits("providerA", "a1")...))
	f.levels.Degrade("test")
	f.levels.Degrade("test")

	resp, _ := f.svc.Search(context.Background(), newRequest(t, request.Params{Query: "roborail"}))
	if f.levels.Level() != 1 || resp.DegradationLevel != 1 {
		t.Errorf("expected level 1 after one healthy fan-out, got %d", f.levels.Level())
	}
	if resp.ScoringStrategy != result.StrategyReduced {
		t.Errorf("level 1 must use reduced scoring, got %q", resp.ScoringStrategy)
	}
}

func TestSearch_NilRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), nil)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if failure.Classify(err).Category != failure.Validation {
		t.Errorf("expected VALIDATION, got %s", failure.Classify(err).Category)
	}
}

func TestResetCircuitBreaker(t *testing.T) {
	f := newFixture(t, returning("providerA"))

	if err := f.svc.ResetCircuitBreaker("nope"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	b, _ := f.registry.Breaker("providerA")
	for range 10 {
		_, _ = resilience.Guard(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("boom")
		})
	}
	if b.State() != resilience.Open {
		t.Fatalf("expected OPEN, got %s", b.State())
	}
	if err := f.svc.ResetCircuitBreaker("providerA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != resilience.Closed {
		t.Errorf("expected CLOSED after reset, got %s", b.State())
	}
}

func TestClearCacheAndMetrics(t *testing.T) {
	f := newFixture(t,
		returning("providerA", hits("providerA", "a1")...),
		returning("providerB", hits("providerB", "b1")...),
	)
	_, _ = f.svc.Search(context.Background(), scenarioRequest(t))
	_, _ = f.svc.Search(context.Background(), scenarioRequest(t))

	m := f.svc.Metrics()
	if len(m.Breakers) != 2 || m.Cache.Hits != 1 || m.Cache.Size != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}

	if n := f.svc.ClearCache(context.Background(), "ROBORAIL"); n != 1 {
		t.Errorf("expected 1 cleared entry, got %d", n)
	}
	resp, _ := f.svc.Search(context.Background(), scenarioRequest(t))
	if resp.Performance.CacheHit {
		t.Error("cleared entry must miss")
	}
}
