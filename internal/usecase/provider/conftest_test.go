package provider

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

type mockBackend struct {
	mu        sync.Mutex
	name      string
	searchFn  func(ctx context.Context, vec []float32, q Query) ([]candidate.Candidate, error)
	pingErr   error
	calls     int
	lastVec   []float32
	lastQuery Query
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) SearchByEmbedding(ctx context.Context, vec []float32, q Query) ([]candidate.Candidate, error) {
	m.mu.Lock()
	m.calls++
	m.lastVec = vec
	m.lastQuery = q
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(ctx, vec, q)
	}
	return []candidate.Candidate{candidate.New("doc-1", "content", 0.9, m.name, nil)}, nil
}

func (m *mockBackend) Ping(context.Context) error { return m.pingErr }

func (m *mockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// keywordBackend adds full-text search to mockBackend.
type keywordBackend struct {
	*mockBackend
	textFn    func(ctx context.Context, q Query) ([]candidate.Candidate, error)
	textCalls int
}

func (k *keywordBackend) SearchByText(ctx context.Context, q Query) ([]candidate.Candidate, error) {
	k.textCalls++
	if k.textFn != nil {
		return k.textFn(ctx, q)
	}
	return []candidate.Candidate{candidate.New("kw-1", "keyword hit", 0.4, k.name, nil)}, nil
}

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestGuarded(b Backend, e Embedder, breakerCfg resilience.BreakerConfig) *Guarded {
	r := resilience.NewRetrier(resilience.DefaultRetryConfig(), nil, resilience.WithSleep(noSleep))
	br := resilience.NewBreaker(b.Name(), breakerCfg, nil)
	return NewGuarded(b, e, r, br, GuardedOptions{}, nil)
}

func mustRequest(p request.Params) *request.Request {
	r, err := request.New(p)
	if err != nil {
		panic(err)
	}
	return &r
}
