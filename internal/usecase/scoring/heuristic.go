package scoring

import (
	"context"
	"strings"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
)

// Recency decay constants.
const (
	recencyFresh          = 1.0
	recencyYearEnd        = 0.3
	recencySecondYear     = 0.5
	recencyFloor          = 0.1
	recencyNeutral        = 0.5
	recencyDisabledNoDate = 0.4

	freshDays      = 30
	oneYearDays    = 365
	twoYearsDays   = 730
	neutralDefault = 0.5
)

// Query is the per-request input of a Strategy.
type Query struct {
	Text    string
	Context request.QueryContext
	// Reduced skips the context, semantic and feedback factors.
	Reduced bool
}

// Strategy computes relevance factors for one candidate.
type Strategy interface {
	Factors(ctx context.Context, q Query, c *candidate.Candidate) (result.Factors, error)
}

// HeuristicConfig tunes the Heuristic strategy.
type HeuristicConfig struct {
	TemporalScoring bool
	// Feedback enables the user feedback factor. Nil disables it.
	Feedback FeedbackSource
	Now      func() time.Time
}

// Heuristic scores candidates from their metadata, timestamps and text overlap.
type Heuristic struct {
	cfg HeuristicConfig
}

var _ Strategy = (*Heuristic)(nil)

// NewHeuristic creates the default strategy.
func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Heuristic{cfg: cfg}
}

// Factors computes every factor for c.
func (h *Heuristic) Factors(_ context.Context, q Query, c *candidate.Candidate) (result.Factors, error) {
	f := result.Factors{
		Similarity:   similarity(c),
		Recency:      recency(c, h.cfg.Now(), h.cfg.TemporalScoring),
		Authority:    authority(c),
		KeywordMatch: keywordMatch(q.Text, c.Content()),
	}
	if q.Reduced {
		return f, nil
	}
	f.ContextRelevance = contextRelevance(q.Context, c)
	f.SemanticMatch = semanticMatch(q.Text, q.Context.Domain, c.Content())
	if h.cfg.Feedback != nil {
		v := neutralDefault
		if r, ok := h.cfg.Feedback.Rating(c.ID()); ok {
			v = r
		}
		f.UserFeedback = &v
	}
	return f, nil
}

func similarity(c *candidate.Candidate) float64 {
	if !c.HasSimilarity() {
		return neutralDefault
	}
	return c.Similarity()
}

// recency decays with the age of the newest timestamp.
func recency(c *candidate.Candidate, now time.Time, enabled bool) float64 {
	t, dated := c.LastModified()
	if !enabled {
		if !dated {
			return recencyDisabledNoDate
		}
		return recencyNeutral
	}
	if !dated {
		return recencyNeutral
	}

	days := now.Sub(t).Hours() / 24
	switch {
	case days <= freshDays:
		return recencyFresh
	case days <= oneYearDays:
		return recencyFresh - (recencyFresh-recencyYearEnd)*(days-freshDays)/(oneYearDays-freshDays)
	case days <= twoYearsDays:
		return recencySecondYear - (recencySecondYear-recencyFloor)*(days-oneYearDays)/(twoYearsDays-oneYearDays)
	default:
		return recencyFloor
	}
}

var typeBoosts = map[string]float64{
	"documentation": 0.15,
	"manual":        0.15,
	"guide":         0.1,
	"faq":           0.05,
	"policy":        0.1,
}

// authority starts from the stored quality score and adds flag boosts.
func authority(c *candidate.Candidate) float64 {
	score := neutralDefault
	if v, ok := c.MetaFloat("authority"); ok {
		score = clamp01(v)
	} else if v, ok := c.MetaFloat("quality_score"); ok {
		score = clamp01(v)
	}
	if c.MetaBool("official") {
		score += 0.2
	}
	if c.MetaBool("verified") {
		score += 0.1
	}
	if typ, ok := c.MetaString("type"); ok {
		score += typeBoosts[strings.ToLower(typ)]
	}
	return clamp01(score)
}

// contextRelevance adds domain, type and history overlap bonuses to a neutral base.
func contextRelevance(qc request.QueryContext, c *candidate.Candidate) float64 {
	score := neutralDefault
	if qc.IsEmpty() {
		return score
	}
	content := strings.ToLower(c.Content())

	if d := strings.ToLower(strings.TrimSpace(qc.Domain)); d != "" {
		if md, ok := c.MetaString("domain"); ok && strings.EqualFold(md, d) {
			score += 0.25
		} else if strings.Contains(content, d) {
			score += 0.15
		}
	}
	if qc.Type != "" {
		if typ, ok := c.MetaString("type"); ok && strings.EqualFold(typ, qc.Type) {
			score += 0.15
		}
	}
	if len(qc.History) > 0 {
		var terms []string
		for _, h := range qc.History {
			terms = append(terms, keywords(h)...)
		}
		if len(terms) > 0 {
			words := wordSet(c.Content())
			hits := 0
			for _, t := range terms {
				if words[t] {
					hits++
				}
			}
			score += 0.2 * float64(hits) / float64(len(terms))
		}
	}
	return clamp01(score)
}

// keywordMatch is the importance-weighted fraction of query keywords in content,
// plus a bonus when the whole query appears verbatim.
func keywordMatch(query, content string) float64 {
	terms := keywords(query)
	if len(terms) == 0 {
		return 0
	}
	words := wordSet(content)
	lower := strings.ToLower(content)

	var total, matched float64
	for _, t := range terms {
		w := importance(t)
		total += w
		switch {
		case words[t]:
			matched += w
		case strings.Contains(lower, t):
			matched += w * 0.5
		}
	}
	score := matched / total
	if phrase := strings.Join(tokenize(query), " "); len(terms) > 1 && strings.Contains(lower, phrase) {
		score += 0.2
	}
	return clamp01(score)
}

// semanticMatch rewards known word pairs that appear across query and content.
func semanticMatch(query, domain, content string) float64 {
	q := wordSet(query)
	c := wordSet(content)
	var score float64
	for _, p := range semanticPairs {
		if (q[p[0]] && c[p[1]]) || (q[p[1]] && c[p[0]]) {
			score += 0.2
		}
	}
	if d := strings.ToLower(strings.TrimSpace(domain)); d != "" && strings.Contains(strings.ToLower(content), d) {
		score += 0.1
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
