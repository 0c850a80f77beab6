package chi

import (
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// ErrorCode is the machine-readable error code of an ErrorResponse.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest      ErrorCode = "bad_request"
	ErrorCodeUnauthorized    ErrorCode = "unauthorized"
	ErrorCodeValidation      ErrorCode = "validation_failed"
	ErrorCodeUnknownProvider ErrorCode = "provider_not_found"
	ErrorCodeInternal        ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SearchContext is the optional scoring context of a search.
type SearchContext struct {
	Domain  string   `json:"domain,omitempty"`
	Type    string   `json:"type,omitempty"`
	History []string `json:"history,omitempty"`
}

// SearchWeights overrides scoring weights per request.
type SearchWeights struct {
	Similarity       *float64 `json:"similarity,omitempty"`
	Recency          *float64 `json:"recency,omitempty"`
	Authority        *float64 `json:"authority,omitempty"`
	ContextRelevance *float64 `json:"context_relevance,omitempty"`
	KeywordMatch     *float64 `json:"keyword_match,omitempty"`
	SemanticMatch    *float64 `json:"semantic_match,omitempty"`
	UserFeedback     *float64 `json:"user_feedback,omitempty"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query      string         `json:"query"`
	MaxResults int            `json:"max_results,omitempty"`
	Threshold  *float64       `json:"threshold,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
	Context    *SearchContext `json:"context,omitempty"`
	Weights    *SearchWeights `json:"weights,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

func (b SearchRequest) params() request.Params {
	p := request.Params{
		Query:      b.Query,
		MaxResults: b.MaxResults,
		Threshold:  b.Threshold,
		Sources:    b.Sources,
		Embedding:  b.Embedding,
	}
	if b.Context != nil {
		p.Context = request.QueryContext{
			Domain:  b.Context.Domain,
			Type:    b.Context.Type,
			History: b.Context.History,
		}
	}
	if w := b.Weights; w != nil {
		p.Weights = request.Weights{
			Similarity:       w.Similarity,
			Recency:          w.Recency,
			Authority:        w.Authority,
			ContextRelevance: w.ContextRelevance,
			KeywordMatch:     w.KeywordMatch,
			SemanticMatch:    w.SemanticMatch,
			UserFeedback:     w.UserFeedback,
		}
	}
	return p
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Provider       string         `json:"provider"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Similarity     *float64       `json:"similarity,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Rank           int            `json:"rank"`
	Factors        result.Factors `json:"factors"`
}

// SearchResponse is the body of a successful POST /search.
type SearchResponse struct {
	RequestID        string                  `json:"request_id"`
	Results          []SearchResult          `json:"results"`
	TotalResults     int                     `json:"total_results"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
	ScoringStrategy  string                  `json:"scoring_strategy"`
	Performance      result.Performance      `json:"performance"`
	Degraded         bool                    `json:"degraded"`
	DegradationLevel int                     `json:"degradation_level"`
	Providers        []result.ProviderReport `json:"providers"`
}

func searchResponseFrom(resp result.Response) SearchResponse {
	out := SearchResponse{
		RequestID:        resp.RequestID,
		Results:          make([]SearchResult, 0, len(resp.Results)),
		TotalResults:     resp.TotalResults,
		ProcessingTimeMs: resp.ProcessingTimeMs,
		ScoringStrategy:  resp.ScoringStrategy,
		Performance:      resp.Performance,
		Degraded:         resp.Degraded,
		DegradationLevel: resp.DegradationLevel,
		Providers:        resp.Providers,
	}
	if out.Providers == nil {
		out.Providers = []result.ProviderReport{}
	}
	for _, r := range resp.Results {
		c := r.Candidate
		item := SearchResult{
			ID:             c.ID(),
			Content:        c.Content(),
			Provider:       c.Provider(),
			Metadata:       c.Metadata(),
			RelevanceScore: r.Score,
			Rank:           r.Rank,
			Factors:        r.Factors,
		}
		if c.HasSimilarity() {
			sim := c.Similarity()
			item.Similarity = &sim
		}
		out.Results = append(out.Results, item)
	}
	return out
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	DocumentID string `json:"document_id"`
	Rating     int    `json:"rating"`
}

// ProviderHealth is the wire form of provider.Health.
type ProviderHealth struct {
	Provider       string `json:"provider"`
	IsHealthy      bool   `json:"is_healthy"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

func providerHealthFrom(h provider.Health) ProviderHealth {
	return ProviderHealth{
		Provider:       h.Provider,
		IsHealthy:      h.Healthy,
		ResponseTimeMs: h.LatencyMs(),
		Error:          h.Error,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Providers []ProviderHealth  `json:"providers"`
}

// ResetResponse is the body of a successful breaker reset.
type ResetResponse struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

// ClearCacheResponse is the body of DELETE /admin/cache.
type ClearCacheResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}
