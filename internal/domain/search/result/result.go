package result

import "github.com/kailas-cloud/vecroute/internal/domain/search/candidate"

// Scoring strategy names reported in responses.
const (
	StrategyMultiFactor       = "multi_factor"
	StrategyReduced           = "multi_factor_reduced"
	StrategyFallback          = "fallback"
	StrategyFallbackOptimized = "fallback_optimized"
)

// Factors holds the per-candidate relevance signals, each in [0,1].
type Factors struct {
	Similarity       float64  `json:"similarity"`
	Recency          float64  `json:"recency"`
	Authority        float64  `json:"authority"`
	ContextRelevance float64  `json:"context_relevance"`
	KeywordMatch     float64  `json:"keyword_match"`
	SemanticMatch    float64  `json:"semantic_match"`
	UserFeedback     *float64 `json:"user_feedback,omitempty"`
}

// Scored is a candidate with its relevance factors, final score and rank.
type Scored struct {
	Candidate candidate.Candidate `json:"candidate"`
	Factors   Factors             `json:"factors"`
	Score     float64             `json:"relevance_score"`
	// Rank is the 0-based position after sorting.
	Rank int `json:"rank"`
}

// Performance describes how a response was produced.
type Performance struct {
	SearchTimeMs       int64 `json:"search_time_ms"`
	CacheHit           bool  `json:"cache_hit"`
	ParallelExecution  bool  `json:"parallel_execution"`
	ProvidersQueried   int   `json:"providers_queried"`
	ProvidersSucceeded int   `json:"providers_succeeded"`
}

// ProviderReport is the per-provider outcome of a fan-out.
type ProviderReport struct {
	Provider   string `json:"provider"`
	Results    int    `json:"results"`
	Tier       string `json:"tier,omitempty"`
	Degraded   bool   `json:"degraded"`
	TimedOut   bool   `json:"timed_out"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response is the terminal result of a search.
type Response struct {
	RequestID        string           `json:"request_id"`
	Results          []Scored         `json:"results"`
	TotalResults     int              `json:"total_results"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	ScoringStrategy  string           `json:"scoring_strategy"`
	Performance      Performance      `json:"performance"`
	Degraded         bool             `json:"degraded"`
	DegradationLevel int              `json:"degradation_level"`
	Providers        []ProviderReport `json:"providers,omitempty"`
}

// Clone returns a copy whose slices are not shared with r.
func (r Response) Clone() Response {
	r.Results = append([]Scored(nil), r.Results...)
	r.Providers = append([]ProviderReport(nil), r.Providers...)
	return r
}
