package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Collection field names.
const (
	fieldID        = "id"
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldVector    = "vector"
)

var outputFields = []string{fieldID, fieldContent, fieldMetadata, fieldCreatedAt, fieldUpdatedAt}

// Config holds connection parameters for a Milvus store.
type Config struct {
	Address    string
	Username   string
	Password   string
	Collection string
	// EF is the HNSW search breadth.
	EF int
}

// searcher is the consumer interface over the Milvus client (ISP).
type searcher interface {
	Search(
		ctx context.Context, collName string, partitions []string, expr string,
		outputFields []string, vectors []entity.Vector, vectorField string,
		metricType entity.MetricType, topK int, sp entity.SearchParam,
		opts ...client.SearchQueryOptionFunc,
	) ([]client.SearchResult, error)
	HasCollection(ctx context.Context, collName string) (bool, error)
}

// Store searches a Milvus collection with an HNSW COSINE index.
type Store struct {
	name       string
	client     searcher
	closer     func() error
	collection string
	ef         int
}

var _ provider.Backend = (*Store)(nil)

// Connect dials Milvus.
func Connect(ctx context.Context, name string, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, failure.Mark(fmt.Errorf("connect to milvus: %w", err), failure.Network)
	}
	s := New(name, c, cfg)
	s.closer = c.Close
	return s, nil
}

// New builds a store over an existing client.
func New(name string, c searcher, cfg Config) *Store {
	coll := cfg.Collection
	if coll == "" {
		coll = "documents"
	}
	ef := cfg.EF
	if ef <= 0 {
		ef = 128
	}
	return &Store{name: name, client: c, collection: coll, ef: ef}
}

// Name returns the provider id.
func (s *Store) Name() string { return s.name }

// Close releases the connection.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Ping checks that the collection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if !ok {
		return failure.Mark(fmt.Errorf("collection %q does not exist", s.collection), failure.Configuration)
	}
	return nil
}

// SearchByEmbedding runs an ANN search and drops hits below the threshold.
func (s *Store) SearchByEmbedding(ctx context.Context, vec []float32, q provider.Query) ([]candidate.Candidate, error) {
	if len(vec) == 0 {
		return nil, failure.Mark(fmt.Errorf("empty query vector: %w", domain.ErrInvalidRequest), failure.Validation)
	}
	sp, err := entity.NewIndexHNSWSearchParam(s.ef)
	if err != nil {
		return nil, failure.Mark(fmt.Errorf("search param: %w", err), failure.Configuration)
	}

	results, err := s.client.Search(ctx,
		s.collection,
		nil,
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(vec)},
		fieldVector,
		entity.COSINE,
		q.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := []candidate.Candidate{}
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("search result: %w", r.Err)
		}
		out = append(out, s.decode(r, q.Threshold)...)
	}
	return out, nil
}

func (s *Store) decode(r client.SearchResult, threshold float64) []candidate.Candidate {
	ids, _ := r.Fields.GetColumn(fieldID).(*entity.ColumnVarChar)
	contents, _ := r.Fields.GetColumn(fieldContent).(*entity.ColumnVarChar)
	metas, _ := r.Fields.GetColumn(fieldMetadata).(*entity.ColumnJSONBytes)
	created, _ := r.Fields.GetColumn(fieldCreatedAt).(*entity.ColumnInt64)
	updated, _ := r.Fields.GetColumn(fieldUpdatedAt).(*entity.ColumnInt64)
	if ids == nil {
		return nil
	}

	out := make([]candidate.Candidate, 0, r.ResultCount)
	for i := 0; i < r.ResultCount && i < len(r.Scores); i++ {
		score := float64(r.Scores[i])
		if score < threshold {
			continue
		}
		var content string
		if contents != nil {
			content = contents.Data()[i]
		}
		var metadata map[string]any
		if metas != nil {
			// malformed metadata degrades to none
			_ = json.Unmarshal(metas.Data()[i], &metadata)
		}
		c := candidate.New(ids.Data()[i], content, score, s.name, metadata).
			WithTimestamps(unixOrZero(created, i), unixOrZero(updated, i))
		out = append(out, c)
	}
	return out
}

func unixOrZero(col *entity.ColumnInt64, i int) time.Time {
	if col == nil {
		return time.Time{}
	}
	v := col.Data()[i]
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
