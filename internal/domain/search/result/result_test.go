package result

import (
	"testing"

	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
)

func TestClone(t *testing.T) {
	r := Response{
		Results:   []Scored{{Candidate: candidate.New("doc-1", "hello", 0.9, "memory", nil), Score: 0.8}},
		Providers: []ProviderReport{{Provider: "memory", Results: 1}},
	}

	c := r.Clone()
	c.Results[0].Score = 0
	c.Providers[0].Results = 7

	if r.Results[0].Score != 0.8 {
		t.Error("clone must not share results")
	}
	if r.Providers[0].Results != 1 {
		t.Error("clone must not share provider reports")
	}
}

func TestClone_Empty(t *testing.T) {
	c := Response{}.Clone()
	if c.Results != nil || c.Providers != nil {
		t.Errorf("expected nil slices, got %+v", c)
	}
}
