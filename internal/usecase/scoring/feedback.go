package scoring

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// Rating bounds accepted by Feedback.Record.
const (
	MinRating = 1
	MaxRating = 5
)

// FeedbackSource returns a normalized [0,1] rating for a candidate id.
type FeedbackSource interface {
	Rating(id string) (float64, bool)
}

type tally struct {
	sum   int
	count int
}

// Feedback is an in-memory store of user ratings keyed by candidate id.
// Safe for concurrent use.
type Feedback struct {
	mu      sync.RWMutex
	ratings map[string]tally
}

// NewFeedback creates an empty store.
func NewFeedback() *Feedback {
	return &Feedback{ratings: make(map[string]tally)}
}

// Record adds a 1-5 rating for id.
func (f *Feedback) Record(id string, rating int) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrInvalidRequest)
	}
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d: %w", MinRating, MaxRating, domain.ErrInvalidRequest)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.ratings[id]
	t.sum += rating
	t.count++
	f.ratings[id] = t
	return nil
}

// Rating returns the mean rating of id mapped to [0,1].
func (f *Feedback) Rating(id string) (float64, bool) {
	f.mu.RLock()
	t, ok := f.ratings[id]
	f.mu.RUnlock()
	if !ok || t.count == 0 {
		return 0, false
	}
	mean := float64(t.sum) / float64(t.count)
	return (mean - MinRating) / (MaxRating - MinRating), true
}
