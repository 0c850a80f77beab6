package candidate

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Candidate is a provider-produced search hit before relevance scoring.
type Candidate struct {
	id            string
	content       string
	similarity    float64
	hasSimilarity bool
	provider      string
	metadata      map[string]any
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates a candidate. similarity is clamped to [0,1].
func New(id, content string, similarity float64, provider string, metadata map[string]any) Candidate {
	return Candidate{
		id:            id,
		content:       content,
		similarity:    clamp01(similarity),
		hasSimilarity: !math.IsNaN(similarity),
		provider:      provider,
		metadata:      copyMetadata(metadata),
	}
}

// NewUnscored creates a candidate whose provider reported no similarity.
func NewUnscored(id, content, provider string, metadata map[string]any) Candidate {
	return Candidate{id: id, content: content, provider: provider, metadata: copyMetadata(metadata)}
}

// WithTimestamps returns a copy carrying creation and update times. Zero values mean absent.
func (c Candidate) WithTimestamps(createdAt, updatedAt time.Time) Candidate {
	c.createdAt = createdAt
	c.updatedAt = updatedAt
	return c
}

// ID returns the id, unique within the provider's namespace.
func (c *Candidate) ID() string { return c.id }

// Content returns the text content.
func (c *Candidate) Content() string { return c.content }

// Similarity returns the provider-native similarity in [0,1].
func (c *Candidate) Similarity() float64 { return c.similarity }

// HasSimilarity reports whether the provider supplied a similarity.
func (c *Candidate) HasSimilarity() bool { return c.hasSimilarity }

// Provider returns the id of the provider that produced the candidate.
func (c *Candidate) Provider() string { return c.provider }

// Metadata returns a copy of the metadata map.
func (c *Candidate) Metadata() map[string]any { return copyMetadata(c.metadata) }

// MetaString returns a string metadata value.
func (c *Candidate) MetaString(key string) (string, bool) {
	s, ok := c.metadata[key].(string)
	return s, ok
}

// MetaFloat returns a numeric metadata value.
func (c *Candidate) MetaFloat(key string) (float64, bool) {
	switch v := c.metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// MetaBool returns a boolean metadata value.
func (c *Candidate) MetaBool(key string) bool {
	b, _ := c.metadata[key].(bool)
	return b
}

// CreatedAt returns the creation time (zero if unknown).
func (c *Candidate) CreatedAt() time.Time { return c.createdAt }

// UpdatedAt returns the last update time (zero if unknown).
func (c *Candidate) UpdatedAt() time.Time { return c.updatedAt }

// LastModified returns max(updatedAt, createdAt) and whether any timestamp is known.
func (c *Candidate) LastModified() (time.Time, bool) {
	t := c.createdAt
	if c.updatedAt.After(t) {
		t = c.updatedAt
	}
	return t, !t.IsZero()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type wire struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Similarity    float64        `json:"similarity"`
	HasSimilarity bool           `json:"has_similarity"`
	Provider      string         `json:"source_provider"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
}

// MarshalJSON encodes the candidate for caches and API responses.
func (c Candidate) MarshalJSON() ([]byte, error) {
	w := wire{
		ID:            c.id,
		Content:       c.content,
		Similarity:    c.similarity,
		HasSimilarity: c.hasSimilarity,
		Provider:      c.provider,
		Metadata:      c.metadata,
	}
	if !c.createdAt.IsZero() {
		t := c.createdAt
		w.CreatedAt = &t
	}
	if !c.updatedAt.IsZero() {
		t := c.updatedAt
		w.UpdatedAt = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a candidate written by MarshalJSON.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	*c = Candidate{
		id:            w.ID,
		content:       w.Content,
		similarity:    clamp01(w.Similarity),
		hasSimilarity: w.HasSimilarity,
		provider:      w.Provider,
		metadata:      w.Metadata,
	}
	if w.CreatedAt != nil {
		c.createdAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		c.updatedAt = *w.UpdatedAt
	}
	return nil
}
