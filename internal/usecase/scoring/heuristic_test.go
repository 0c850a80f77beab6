package scoring

import (
	"testing"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
)

func dated(updated time.Time) *candidate.Candidate {
	c := candidate.New("d", "x", 0.5, "a", nil).WithTimestamps(time.Time{}, updated)
	return &c
}

func TestRecency(t *testing.T) {
	tests := []struct {
		name string
		days int
		want float64
	}{
		{"fresh", 10, 1.0},
		{"thirty days", 30, 1.0},
		{"end of first year", 365, 0.3},
		{"mid first year", 30 + 335/2, 0.65},
		{"start of second year", 366, 0.5 - 0.4/365},
		{"end of second year", 730, 0.1},
		{"ancient", 2000, 0.1},
		{"future", -3, 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := recency(dated(daysAgo(tc.days)), now, true)
			if diff := got - tc.want; diff > 0.01 || diff < -0.01 {
				t.Errorf("recency(%d days) = %v, want %v", tc.days, got, tc.want)
			}
		})
	}
}

func TestRecency_NeutralValues(t *testing.T) {
	undated := candidate.New("u", "x", 0.5, "a", nil)

	if got := recency(&undated, now, true); got != 0.5 {
		t.Errorf("enabled and undated: got %v, want 0.5", got)
	}
	if got := recency(dated(daysAgo(1)), now, false); got != 0.5 {
		t.Errorf("disabled and dated: got %v, want 0.5", got)
	}
	if got := recency(&undated, now, false); got != 0.4 {
		t.Errorf("disabled and undated: got %v, want 0.4", got)
	}
}

func TestRecency_UsesNewestTimestamp(t *testing.T) {
	c := candidate.New("d", "x", 0.5, "a", nil).WithTimestamps(daysAgo(900), daysAgo(5))
	if got := recency(&c, now, true); got != 1.0 {
		t.Errorf("updatedAt must win, got %v", got)
	}
}

func TestSimilarity_DefaultWhenAbsent(t *testing.T) {
	c := candidate.NewUnscored("u", "x", "a", nil)
	if got := similarity(&c); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestAuthority(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want float64
	}{
		{"default", nil, 0.5},
		{"stored score", map[string]any{"authority": 0.7}, 0.7},
		{"official", map[string]any{"official": true}, 0.7},
		{"verified manual", map[string]any{"verified": true, "type": "Manual"}, 0.75},
		{"clamped", map[string]any{"authority": 0.95, "official": true, "verified": true}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := candidate.New("a", "x", 0.5, "p", tc.meta)
			if got := authority(&c); !approx(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestContextRelevance(t *testing.T) {
	c := candidate.New("a", "Roborail conveyor maintenance schedule", 0.5, "p", map[string]any{"type": "manual"})

	if got := contextRelevance(request.QueryContext{}, &c); got != 0.5 {
		t.Errorf("empty context: got %v, want 0.5", got)
	}
	got := contextRelevance(request.QueryContext{
		Domain:  "roborail",
		Type:    "manual",
		History: []string{"conveyor maintenance"},
	}, &c)
	if !approx(got, 1.0) {
		t.Errorf("full overlap: got %v, want 1.0", got)
	}
}

func TestKeywordMatch(t *testing.T) {
	if got := keywordMatch("the and of", "anything"); got != 0 {
		t.Errorf("stopword-only query must score 0, got %v", got)
	}
	full := keywordMatch("roborail setup", "Quick roborail setup steps")
	partial := keywordMatch("roborail setup", "Roborail overview")
	none := keywordMatch("roborail setup", "Pricing")
	if !(full > partial && partial > none) {
		t.Errorf("expected full > partial > none, got %v %v %v", full, partial, none)
	}
	if full != 1 {
		t.Errorf("all keywords plus verbatim phrase must saturate, got %v", full)
	}
}

func TestSemanticMatch(t *testing.T) {
	if got := semanticMatch("configure roborail", "", "Roborail setup guide"); !approx(got, 0.2) {
		t.Errorf("expected pair bonus 0.2, got %v", got)
	}
	if got := semanticMatch("configure roborail", "roborail", "Roborail setup guide"); !approx(got, 0.3) {
		t.Errorf("expected pair plus domain bonus 0.3, got %v", got)
	}
	if got := semanticMatch("hello", "", "world"); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
