package scoring

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

// Weights are the relative importance of each factor.
type Weights struct {
	Similarity       float64 `yaml:"similarity"`
	Recency          float64 `yaml:"recency"`
	Authority        float64 `yaml:"authority"`
	ContextRelevance float64 `yaml:"context_relevance"`
	KeywordMatch     float64 `yaml:"keyword_match"`
	SemanticMatch    float64 `yaml:"semantic_match"`
	UserFeedback     float64 `yaml:"user_feedback"`
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		Similarity:       0.30,
		Recency:          0.10,
		Authority:        0.10,
		ContextRelevance: 0.15,
		KeywordMatch:     0.15,
		SemanticMatch:    0.10,
		UserFeedback:     0.10,
	}
}

// Override applies per-request overrides.
func (w Weights) Override(o request.Weights) Weights {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&w.Similarity, o.Similarity)
	set(&w.Recency, o.Recency)
	set(&w.Authority, o.Authority)
	set(&w.ContextRelevance, o.ContextRelevance)
	set(&w.KeywordMatch, o.KeywordMatch)
	set(&w.SemanticMatch, o.SemanticMatch)
	set(&w.UserFeedback, o.UserFeedback)
	return w
}

// Input is one ranking job.
type Input struct {
	Query      string
	Candidates []candidate.Candidate
	Context    request.QueryContext
	Weights    request.Weights
	MaxResults int
	// Level is the service degradation level at scoring time.
	Level int
}

// Output is the ranked, truncated candidate list.
type Output struct {
	Results  []result.Scored
	Strategy string
}

// Engine ranks candidates with a pluggable Strategy.
type Engine struct {
	strategy Strategy
	weights  Weights
	logger   *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(strategy Strategy, weights Weights, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{strategy: strategy, weights: weights, logger: logger}
}

// Rank scores every candidate, sorts by descending score (stable, so ties keep
// fan-in order) and truncates to MaxResults. A failing strategy degrades to the
// original order scored by raw similarity.
func (e *Engine) Rank(ctx context.Context, in Input) Output {
	out, err := e.rank(ctx, in)
	if err != nil {
		e.logger.Warn("Relevance scoring failed, using raw similarity",
			zap.Int("candidates", len(in.Candidates)),
			zap.Error(err),
		)
		return fallback(in)
	}
	return out
}

func (e *Engine) rank(ctx context.Context, in Input) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	reduced := in.Level >= resilience.LevelReduced
	q := Query{Text: in.Query, Context: in.Context, Reduced: reduced}
	w := e.weights.Override(in.Weights)

	scored := make([]result.Scored, len(in.Candidates))
	for i := range in.Candidates {
		c := in.Candidates[i]
		f, err := e.strategy.Factors(ctx, q, &c)
		if err != nil {
			return Output{}, fmt.Errorf("candidate %q: %w", c.ID(), err)
		}
		scored[i] = result.Scored{Candidate: c, Factors: f, Score: combine(f, w, reduced)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	scored = truncate(scored, in.MaxResults)

	strategy := result.StrategyMultiFactor
	if reduced {
		strategy = result.StrategyReduced
	}
	return Output{Results: scored, Strategy: strategy}, nil
}

// combine is the weighted mean over the factors that were applied.
func combine(f result.Factors, w Weights, reduced bool) float64 {
	var sum, weights float64
	add := func(v, weight float64) {
		sum += v * weight
		weights += weight
	}
	add(f.Similarity, w.Similarity)
	add(f.Recency, w.Recency)
	add(f.Authority, w.Authority)
	add(f.KeywordMatch, w.KeywordMatch)
	if !reduced {
		add(f.ContextRelevance, w.ContextRelevance)
		add(f.SemanticMatch, w.SemanticMatch)
		if f.UserFeedback != nil {
			add(*f.UserFeedback, w.UserFeedback)
		}
	}
	if weights == 0 {
		return clamp01(f.Similarity)
	}
	return clamp01(sum / weights)
}

func fallback(in Input) Output {
	scored := make([]result.Scored, len(in.Candidates))
	for i, c := range in.Candidates {
		scored[i] = result.Scored{
			Candidate: c,
			Factors:   result.Factors{Similarity: c.Similarity()},
			Score:     c.Similarity(),
		}
	}
	return Output{Results: truncate(scored, in.MaxResults), Strategy: result.StrategyFallback}
}

func truncate(scored []result.Scored, maxResults int) []result.Scored {
	if maxResults > 0 && len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	for i := range scored {
		scored[i].Rank = i
	}
	return scored
}
