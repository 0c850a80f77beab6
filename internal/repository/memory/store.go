package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Document is a stored record.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is an in-process vector store. Safe for concurrent use.
type Store struct {
	name string

	mu   sync.RWMutex
	docs map[string]Document
	// order keeps insertion order for deterministic ties.
	order []string
}

var (
	_ provider.Backend         = (*Store)(nil)
	_ provider.KeywordSearcher = (*Store)(nil)
)

// New creates an empty store.
func New(name string) *Store {
	return &Store{name: name, docs: make(map[string]Document)}
}

// Name returns the provider id.
func (s *Store) Name() string { return s.name }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Put inserts or replaces a document.
func (s *Store) Put(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrInvalidRequest)
	}
	doc.Embedding = append([]float32(nil), doc.Embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc
	return nil
}

// Get returns a document by id.
func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	}
	return d, nil
}

// Delete removes a document by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	}
	delete(s.docs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Documents returns a snapshot in insertion order.
func (s *Store) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

type hit struct {
	doc   Document
	score float64
}

// SearchByEmbedding ranks documents by cosine similarity, dropping those below the threshold.
func (s *Store) SearchByEmbedding(ctx context.Context, vec []float32, q provider.Query) ([]candidate.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, failure.Mark(fmt.Errorf("empty query vector: %w", domain.ErrInvalidRequest), failure.Validation)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]hit, 0, len(s.docs))
	for _, id := range s.order {
		d := s.docs[id]
		if len(d.Embedding) == 0 {
			continue
		}
		if len(d.Embedding) != len(vec) {
			return nil, failure.Mark(
				fmt.Errorf("document %q has %d dims, query %d: %w", id, len(d.Embedding), len(vec), domain.ErrVectorDimMismatch),
				failure.Validation,
			)
		}
		sim := cosine(vec, d.Embedding)
		if sim < q.Threshold {
			continue
		}
		hits = append(hits, hit{doc: d, score: sim})
	}
	return s.top(hits, q.Limit), nil
}

// SearchByText ranks documents by the fraction of query tokens they contain.
func (s *Store) SearchByText(ctx context.Context, q provider.Query) ([]candidate.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return []candidate.Candidate{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]hit, 0, len(s.docs))
	for _, id := range s.order {
		d := s.docs[id]
		words := make(map[string]struct{})
		for _, w := range tokenize(d.Content) {
			words[w] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, hit{doc: d, score: float64(matched) / float64(len(terms))})
	}
	return s.top(hits, q.Limit), nil
}

func (s *Store) top(hits []hit, limit int) []candidate.Candidate {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]candidate.Candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate.New(h.doc.ID, h.doc.Content, h.score, s.name, h.doc.Metadata).
			WithTimestamps(h.doc.CreatedAt, h.doc.UpdatedAt)
	}
	return out
}

// cosine returns the cosine similarity clamped to [0,1].
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(0, dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

func tokenize(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
