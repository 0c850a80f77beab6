package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func newEngine(feedback FeedbackSource) *Engine {
	h := NewHeuristic(HeuristicConfig{TemporalScoring: true, Feedback: feedback, Now: fixedNow})
	return NewEngine(h, DefaultWeights(), nil)
}

type failingStrategy struct{ panics bool }

func (f failingStrategy) Factors(context.Context, Query, *candidate.Candidate) (result.Factors, error) {
	if f.panics {
		panic("boom")
	}
	return result.Factors{}, errors.New("model unavailable")
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRank_SortedBoundedAndRanked(t *testing.T) {
	cands := []candidate.Candidate{
		candidate.New("1", "Pricing overview", 0.31, "a", nil),
		candidate.New("2", "Roborail automation setup guide", 0.92, "a", map[string]any{"type": "manual"}),
		candidate.New("3", "Roborail install steps", 0.74, "b", nil),
		candidate.New("4", "Unrelated", 0.35, "b", nil),
		candidate.New("5", "Automation setup for roborail", 0.88, "b", nil).WithTimestamps(daysAgo(2), time.Time{}),
	}
	out := newEngine(nil).Rank(context.Background(), Input{
		Query: "roborail automation setup", Candidates: cands, MaxResults: 3,
	})

	if out.Strategy != result.StrategyMultiFactor {
		t.Errorf("expected %q, got %q", result.StrategyMultiFactor, out.Strategy)
	}
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out.Results))
	}
	for i, r := range out.Results {
		if r.Rank != i {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of range: %v", r.Score)
		}
		if i > 0 && r.Score > out.Results[i-1].Score {
			t.Errorf("not sorted at %d: %v > %v", i, r.Score, out.Results[i-1].Score)
		}
	}
	if id := out.Results[0].Candidate.ID(); id != "2" && id != "5" {
		t.Errorf("expected a strong match first, got %s", id)
	}
}

func TestRank_StableTies(t *testing.T) {
	cands := []candidate.Candidate{
		candidate.New("x", "same", 0.5, "a", nil),
		candidate.New("y", "same", 0.5, "b", nil),
		candidate.New("z", "same", 0.5, "c", nil),
	}
	out := newEngine(nil).Rank(context.Background(), Input{Query: "q", Candidates: cands, MaxResults: 10})
	for i, want := range []string{"x", "y", "z"} {
		if got := out.Results[i].Candidate.ID(); got != want {
			t.Fatalf("ties must keep fan-in order, got %s at %d", got, i)
		}
	}
}

func TestRank_RecencyMonotonic(t *testing.T) {
	fresh := candidate.New("fresh", "Roborail setup", 0.7, "a", nil).WithTimestamps(daysAgo(1), time.Time{})
	stale := candidate.New("stale", "Roborail setup", 0.7, "a", nil).WithTimestamps(daysAgo(800), time.Time{})

	out := newEngine(nil).Rank(context.Background(), Input{
		Query: "roborail setup", Candidates: []candidate.Candidate{stale, fresh}, MaxResults: 2,
	})
	if out.Results[0].Candidate.ID() != "fresh" {
		t.Fatalf("fresh twin must rank first")
	}
	if out.Results[0].Score < out.Results[1].Score {
		t.Errorf("fresh %v < stale %v", out.Results[0].Score, out.Results[1].Score)
	}
}

func TestRank_StrategyErrorFallsBack(t *testing.T) {
	cands := []candidate.Candidate{
		candidate.New("1", "a", 0.2, "a", nil),
		candidate.New("2", "b", 0.9, "a", nil),
		candidate.New("3", "c", 0.5, "a", nil),
	}
	for name, s := range map[string]Strategy{"error": failingStrategy{}, "panic": failingStrategy{panics: true}} {
		t.Run(name, func(t *testing.T) {
			out := NewEngine(s, DefaultWeights(), nil).Rank(context.Background(), Input{
				Query: "q", Candidates: cands, MaxResults: 2,
			})
			if out.Strategy != result.StrategyFallback {
				t.Errorf("expected %q, got %q", result.StrategyFallback, out.Strategy)
			}
			if len(out.Results) != 2 || out.Results[0].Candidate.ID() != "1" || out.Results[1].Candidate.ID() != "2" {
				t.Fatalf("fallback must keep original order: %+v", out.Results)
			}
			if out.Results[1].Score != 0.9 || out.Results[1].Rank != 1 {
				t.Errorf("fallback must score by raw similarity: %+v", out.Results[1])
			}
		})
	}
}

func TestRank_ReducedSkipsFactors(t *testing.T) {
	fb := NewFeedback()
	_ = fb.Record("1", 5)
	cands := []candidate.Candidate{candidate.New("1", "configure roborail", 0.8, "a", nil)}

	out := newEngine(fb).Rank(context.Background(), Input{
		Query:      "roborail setup",
		Candidates: cands,
		Context:    request.QueryContext{Domain: "roborail"},
		MaxResults: 5,
		Level:      resilience.LevelReduced,
	})
	if out.Strategy != result.StrategyReduced {
		t.Errorf("expected %q, got %q", result.StrategyReduced, out.Strategy)
	}
	f := out.Results[0].Factors
	if f.ContextRelevance != 0 || f.SemanticMatch != 0 || f.UserFeedback != nil {
		t.Errorf("reduced scoring must skip context, semantic and feedback: %+v", f)
	}
}

func TestRank_RenormalizesOverAppliedWeights(t *testing.T) {
	zero := 0.0
	cands := []candidate.Candidate{candidate.New("1", "text", 0.64, "a", nil)}
	out := newEngine(nil).Rank(context.Background(), Input{
		Query:      "q",
		Candidates: cands,
		MaxResults: 1,
		Weights: request.Weights{
			Recency: &zero, Authority: &zero, ContextRelevance: &zero,
			KeywordMatch: &zero, SemanticMatch: &zero, UserFeedback: &zero,
		},
	})
	if !approx(out.Results[0].Score, 0.64) {
		t.Errorf("only similarity applied, expected 0.64, got %v", out.Results[0].Score)
	}
}

func TestRank_FeedbackFactor(t *testing.T) {
	fb := NewFeedback()
	_ = fb.Record("liked", 5)
	cands := []candidate.Candidate{
		candidate.New("plain", "doc", 0.5, "a", nil),
		candidate.New("liked", "doc", 0.5, "a", nil),
	}
	out := newEngine(fb).Rank(context.Background(), Input{Query: "q", Candidates: cands, MaxResults: 2})

	if out.Results[0].Candidate.ID() != "liked" {
		t.Fatalf("highly rated document must rank first")
	}
	if v := out.Results[1].Factors.UserFeedback; v == nil || *v != 0.5 {
		t.Errorf("unrated documents default to 0.5, got %v", v)
	}
}

func TestRank_Empty(t *testing.T) {
	out := newEngine(nil).Rank(context.Background(), Input{Query: "q", MaxResults: 5})
	if out.Results == nil || len(out.Results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", out.Results)
	}
}
