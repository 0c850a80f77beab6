package redisvec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/vecroute/internal/db"
	dbredis "github.com/kailas-cloud/vecroute/internal/db/redis"
	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/repository/memory"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Hash field names.
const (
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldType      = "type"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldVector    = "vector"
)

var returnFields = []string{fieldContent, fieldMetadata, fieldCreatedAt, fieldUpdatedAt}

// store is the consumer interface for the Redis query engine (ISP).
type store interface {
	db.Pinger
	db.Searcher
	db.IndexManager
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
}

// Store searches documents kept as Redis hashes under an FT index.
type Store struct {
	name   string
	store  store
	prefix string
	index  string
}

var (
	_ provider.Backend         = (*Store)(nil)
	_ provider.KeywordSearcher = (*Store)(nil)
)

// New creates a Redis vector backend. Keys live under vecroute:doc:<name>:.
func New(name string, s store) *Store {
	return &Store{
		name:   name,
		store:  s,
		prefix: fmt.Sprintf("%sdoc:%s:", domain.KeyPrefix, name),
		index:  fmt.Sprintf("%s%s:idx", domain.KeyPrefix, name),
	}
}

// Name returns the provider id.
func (s *Store) Name() string { return s.name }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.store.Ping(ctx))
}

// EnsureIndex creates the FT index for dim-sized vectors unless it exists.
func (s *Store) EnsureIndex(ctx context.Context, dim int) error {
	exists, err := s.store.IndexExists(ctx, s.index)
	if err != nil {
		return classify(fmt.Errorf("check index: %w", err))
	}
	if exists {
		return nil
	}
	def, err := db.NewIndex(s.index).
		Prefix(s.prefix).
		Text(fieldContent).
		Tag(fieldType).
		Numeric(fieldCreatedAt).
		Numeric(fieldUpdatedAt).
		VectorHNSW(fieldVector, dim, db.DistanceCosine, 16, 200).
		Build()
	if err != nil {
		return failure.Mark(fmt.Errorf("index definition: %w", err), failure.Configuration)
	}
	if err := s.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return classify(fmt.Errorf("create index: %w", err))
	}
	return nil
}

// Index writes documents as hashes in one pipelined round-trip.
func (s *Store) Index(ctx context.Context, docs []memory.Document) error {
	items := make([]db.HashSetItem, 0, len(docs))
	for _, d := range docs {
		fields, err := hashFields(d)
		if err != nil {
			return fmt.Errorf("document %q: %w", d.ID, err)
		}
		items = append(items, db.HashSetItem{Key: s.prefix + d.ID, Fields: fields})
	}
	if err := s.store.HSetMulti(ctx, items); err != nil {
		return classify(fmt.Errorf("index documents: %w", err))
	}
	return nil
}

// SearchByEmbedding runs KNN over the vector field.
func (s *Store) SearchByEmbedding(ctx context.Context, vec []float32, q provider.Query) ([]candidate.Candidate, error) {
	if len(vec) == 0 {
		return nil, failure.Mark(fmt.Errorf("empty query vector: %w", domain.ErrInvalidRequest), failure.Validation)
	}
	sr, err := s.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    s.index,
		Vector:       vec,
		K:            q.Limit,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("search knn %s: %w", s.name, err))
	}
	return s.toCandidates(sr, q.Threshold, func(v float64) float64 { return v }), nil
}

// SearchByText runs BM25 over the content field. Scores are mapped to [0,1) as r/(r+1).
func (s *Store) SearchByText(ctx context.Context, q provider.Query) ([]candidate.Candidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []candidate.Candidate{}, nil
	}
	sr, err := s.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    s.index,
		Query:        q.Text,
		TextField:    fieldContent,
		TopK:         q.Limit,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("search bm25 %s: %w", s.name, err))
	}
	return s.toCandidates(sr, 0, func(r float64) float64 {
		if r <= 0 {
			return 0
		}
		return r / (r + 1)
	}), nil
}

func (s *Store) toCandidates(sr *db.SearchResult, threshold float64, normalize func(float64) float64) []candidate.Candidate {
	out := []candidate.Candidate{}
	if sr == nil {
		return out
	}
	for _, e := range sr.Entries {
		score := normalize(e.Score)
		if score < threshold {
			continue
		}
		id := strings.TrimPrefix(e.Key, s.prefix)
		var metadata map[string]any
		if raw := e.Fields[fieldMetadata]; raw != "" {
			// malformed metadata degrades to none
			_ = json.Unmarshal([]byte(raw), &metadata)
		}
		c := candidate.New(id, e.Fields[fieldContent], score, s.name, metadata).
			WithTimestamps(parseUnix(e.Fields[fieldCreatedAt]), parseUnix(e.Fields[fieldUpdatedAt]))
		out = append(out, c)
	}
	return out
}

func hashFields(d memory.Document) (map[string]string, error) {
	m := map[string]string{fieldContent: d.Content}
	if len(d.Metadata) > 0 {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		m[fieldMetadata] = string(meta)
		if t, ok := d.Metadata["type"].(string); ok {
			m[fieldType] = t
		}
	}
	if !d.CreatedAt.IsZero() {
		m[fieldCreatedAt] = strconv.FormatInt(d.CreatedAt.Unix(), 10)
	}
	if !d.UpdatedAt.IsZero() {
		m[fieldUpdatedAt] = strconv.FormatInt(d.UpdatedAt.Unix(), 10)
	}
	if len(d.Embedding) > 0 {
		m[fieldVector] = string(dbredis.VectorToBytes(d.Embedding))
	}
	return m, nil
}

func parseUnix(s string) time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// classify marks Redis failures with a failure category.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *rueidis.RedisError
	if errors.As(err, &re) {
		msg := strings.ToUpper(re.Error())
		switch {
		case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
			return failure.Mark(err, failure.Authentication)
		case strings.HasPrefix(msg, "NOPERM"):
			return failure.Mark(err, failure.Authorization)
		case strings.HasPrefix(msg, "LOADING"), strings.HasPrefix(msg, "BUSY"), strings.HasPrefix(msg, "TRYAGAIN"):
			return failure.Mark(err, failure.ServiceUnavailable)
		case strings.Contains(msg, "UNKNOWN INDEX"), strings.Contains(msg, "NO SUCH INDEX"):
			return failure.Mark(err, failure.Configuration)
		case strings.Contains(msg, "SYNTAX"):
			return failure.Mark(err, failure.Validation)
		}
	}
	return err
}
