package request

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength    = 4096
	DefaultMaxResults = 10
	MaxMaxResults     = 100
	DefaultThreshold  = 0.3
	// CacheKeyPrefix prefixes every request fingerprint.
	CacheKeyPrefix = "search:"
)

// QueryContext narrows relevance scoring to the caller's situation.
type QueryContext struct {
	Domain  string
	Type    string
	History []string
}

// IsEmpty reports whether no context was supplied.
func (c QueryContext) IsEmpty() bool {
	return c.Domain == "" && c.Type == "" && len(c.History) == 0
}

// Weights overrides individual scoring weights. Nil fields keep the engine default.
type Weights struct {
	Similarity       *float64
	Recency          *float64
	Authority        *float64
	ContextRelevance *float64
	KeywordMatch     *float64
	SemanticMatch    *float64
	UserFeedback     *float64
}

// IsEmpty reports whether no override is set.
func (w Weights) IsEmpty() bool {
	return w.Similarity == nil && w.Recency == nil && w.Authority == nil &&
		w.ContextRelevance == nil && w.KeywordMatch == nil &&
		w.SemanticMatch == nil && w.UserFeedback == nil
}

func (w Weights) validate() error {
	for name, v := range map[string]*float64{
		"similarity": w.Similarity, "recency": w.Recency, "authority": w.Authority,
		"context_relevance": w.ContextRelevance, "keyword_match": w.KeywordMatch,
		"semantic_match": w.SemanticMatch, "user_feedback": w.UserFeedback,
	} {
		if v != nil && (*v < 0 || *v > 1 || math.IsNaN(*v)) {
			return fmt.Errorf("weight %s must be between 0 and 1", name)
		}
	}
	return nil
}

// Params is the raw, unvalidated input of New.
type Params struct {
	Query      string
	MaxResults int
	Threshold  *float64
	Sources    []string
	Context    QueryContext
	Weights    Weights
	// Embedding is an optional precomputed query vector.
	Embedding []float32
}

// Request is a validated, immutable search request.
type Request struct {
	query      string
	maxResults int
	threshold  float64
	sources    []string
	context    QueryContext
	weights    Weights
	embedding  []float32
}

// New validates and normalizes search parameters.
// Defaults: maxResults=10, threshold=0.3, sources=all enabled providers.
func New(p Params) (Request, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return Request{}, fmt.Errorf("query is required: %w", domain.ErrInvalidRequest)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars): %w", MaxQueryLength, domain.ErrInvalidRequest)
	}

	maxResults := p.MaxResults
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults < 1 || maxResults > MaxMaxResults {
		return Request{}, fmt.Errorf("max_results must be between 1 and %d: %w", MaxMaxResults, domain.ErrInvalidRequest)
	}

	threshold := DefaultThreshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return Request{}, fmt.Errorf("threshold must be between 0 and 1: %w", domain.ErrInvalidRequest)
	}

	if err := p.Weights.validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	return Request{
		query:      query,
		maxResults: maxResults,
		threshold:  threshold,
		sources:    normalizeSources(p.Sources),
		context:    copyContext(p.Context),
		weights:    p.Weights,
		embedding:  append([]float32(nil), p.Embedding...),
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// MaxResults returns the maximum number of results to return.
func (r *Request) MaxResults() int { return r.maxResults }

// Threshold returns the minimum provider similarity.
func (r *Request) Threshold() float64 { return r.threshold }

// Sources returns the sorted provider ids. Empty means all enabled providers.
func (r *Request) Sources() []string { return append([]string(nil), r.sources...) }

// WantsSource reports whether the provider was requested.
func (r *Request) WantsSource(name string) bool {
	if len(r.sources) == 0 {
		return true
	}
	i := sort.SearchStrings(r.sources, name)
	return i < len(r.sources) && r.sources[i] == name
}

// Context returns the optional query context.
func (r *Request) Context() QueryContext { return copyContext(r.context) }

// Weights returns the scoring weight overrides.
func (r *Request) Weights() Weights { return r.weights }

// Embedding returns the precomputed query vector, if any.
func (r *Request) Embedding() []float32 { return r.embedding }

// HasEmbedding reports whether a precomputed query vector was supplied.
func (r *Request) HasEmbedding() bool { return len(r.embedding) > 0 }

// Fingerprint returns the deterministic cache key of the request.
// The precomputed embedding is excluded: it is derived from the query.
func (r *Request) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(r.query), " ")))
	b.WriteString("|")
	b.WriteString(strings.Join(r.sources, ","))
	b.WriteString("|")
	b.WriteString(strconv.Itoa(r.maxResults))
	b.WriteString("|")
	b.WriteString(strconv.FormatFloat(r.threshold, 'f', -1, 64))
	b.WriteString("|")
	b.WriteString(r.context.Domain + "," + r.context.Type + "," + strings.Join(r.context.History, "\x1f"))
	b.WriteString("|")
	for _, w := range []*float64{
		r.weights.Similarity, r.weights.Recency, r.weights.Authority, r.weights.ContextRelevance,
		r.weights.KeywordMatch, r.weights.SemanticMatch, r.weights.UserFeedback,
	} {
		if w != nil {
			b.WriteString(strconv.FormatFloat(*w, 'f', -1, 64))
		}
		b.WriteString(",")
	}

	h := sha256.Sum256([]byte(b.String()))
	return CacheKeyPrefix + hex.EncodeToString(h[:])
}

// Label is a human-readable description used for pattern-based cache invalidation.
func (r *Request) Label() string {
	return strings.ToLower(r.query) + " [" + strings.Join(r.sources, ",") + "]"
}

func normalizeSources(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func copyContext(c QueryContext) QueryContext {
	c.History = append([]string(nil), c.History...)
	return c
}
