package provider

import (
	"context"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
)

// Result is the outcome of one provider search.
type Result struct {
	Candidates []candidate.Candidate
	// Tier names the fallback tier that produced Candidates.
	Tier     string
	Degraded bool
	// Err is the last tier failure when Tier is the static fallback.
	Err error
}

// Failed reports whether no real tier produced the result.
func (r Result) Failed() bool { return r.Err != nil }

// Health is a provider health report.
type Health struct {
	Provider string        `json:"provider"`
	Healthy  bool          `json:"is_healthy"`
	Latency  time.Duration `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// LatencyMs returns the health check latency in milliseconds.
func (h Health) LatencyMs() int64 { return h.Latency.Milliseconds() }

// Adapter is the uniform search contract every provider satisfies.
type Adapter interface {
	Name() string
	Enabled() bool
	// Local reports whether the provider runs in-process and stays usable in emergency mode.
	Local() bool
	Search(ctx context.Context, req *request.Request) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// Query is the backend-facing part of a search request.
type Query struct {
	Text      string
	Limit     int
	Threshold float64
}

// Backend is the narrow contract of a vector store.
type Backend interface {
	Name() string
	SearchByEmbedding(ctx context.Context, vec []float32, q Query) ([]candidate.Candidate, error)
	Ping(ctx context.Context) error
}

// KeywordSearcher is implemented by backends with full-text search.
type KeywordSearcher interface {
	SearchByText(ctx context.Context, q Query) ([]candidate.Candidate, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
