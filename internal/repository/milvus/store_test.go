package milvus

import (
	"context"
	"errors"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

type fakeClient struct {
	results []client.SearchResult
	err     error
	has     bool
	hasErr  error

	gotColl  string
	gotTopK  int
	gotField string
	gotVecs  []entity.Vector
}

func (f *fakeClient) Search(
	_ context.Context, collName string, _ []string, _ string,
	_ []string, vectors []entity.Vector, vectorField string,
	_ entity.MetricType, topK int, _ entity.SearchParam,
	_ ...client.SearchQueryOptionFunc,
) ([]client.SearchResult, error) {
	f.gotColl = collName
	f.gotTopK = topK
	f.gotField = vectorField
	f.gotVecs = vectors
	return f.results, f.err
}

func (f *fakeClient) HasCollection(context.Context, string) (bool, error) {
	return f.has, f.hasErr
}

func sampleResult() client.SearchResult {
	return client.SearchResult{
		ResultCount: 3,
		Scores:      []float32{0.91, 0.55, 0.12},
		Fields: client.ResultSet{
			entity.NewColumnVarChar(fieldID, []string{"a", "b", "c"}),
			entity.NewColumnVarChar(fieldContent, []string{"Roborail setup", "Pricing", "Other"}),
			entity.NewColumnJSONBytes(fieldMetadata, [][]byte{[]byte(`{"official":true}`), []byte(`{}`), []byte(`bad`)}),
			entity.NewColumnInt64(fieldCreatedAt, []int64{1735689600, 0, 0}),
			entity.NewColumnInt64(fieldUpdatedAt, []int64{0, 0, 0}),
		},
	}
}

func TestSearchByEmbedding(t *testing.T) {
	fc := &fakeClient{results: []client.SearchResult{sampleResult()}}
	s := New("milvus", fc, Config{Collection: "kb"})

	got, err := s.SearchByEmbedding(context.Background(), []float32{0.1, 0.2}, provider.Query{Limit: 5, Threshold: 0.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.gotColl != "kb" || fc.gotTopK != 5 || fc.gotField != fieldVector || len(fc.gotVecs) != 1 {
		t.Errorf("unexpected search call: coll=%s topK=%d field=%s", fc.gotColl, fc.gotTopK, fc.gotField)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(got))
	}
	if got[0].ID() != "a" || !got[0].MetaBool("official") || got[0].Provider() != "milvus" {
		t.Errorf("unexpected first hit: id=%s meta=%v", got[0].ID(), got[0].Metadata())
	}
	if lm, ok := got[0].LastModified(); !ok || lm.Year() != 2025 {
		t.Errorf("expected created_at, got %v %v", lm, ok)
	}
	if _, ok := got[1].LastModified(); ok {
		t.Error("zero timestamps must be absent")
	}
}

func TestSearchByEmbedding_Errors(t *testing.T) {
	s := New("milvus", &fakeClient{err: errors.New("rpc error: code = Unavailable")}, Config{})
	if _, err := s.SearchByEmbedding(context.Background(), []float32{1}, provider.Query{Limit: 1}); err == nil {
		t.Fatal("expected search error")
	}

	_, err := s.SearchByEmbedding(context.Background(), nil, provider.Query{Limit: 1})
	if failure.Classify(err).Category != failure.Validation {
		t.Errorf("expected validation error, got %v", err)
	}

	bad := client.SearchResult{Err: errors.New("partial failure")}
	s = New("milvus", &fakeClient{results: []client.SearchResult{bad}}, Config{})
	if _, err := s.SearchByEmbedding(context.Background(), []float32{1}, provider.Query{Limit: 1}); err == nil {
		t.Error("expected per-result error")
	}
}

func TestPing(t *testing.T) {
	if err := New("milvus", &fakeClient{has: true}, Config{}).Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := New("milvus", &fakeClient{has: false}, Config{}).Ping(context.Background())
	if failure.Classify(err).Category != failure.Configuration {
		t.Errorf("missing collection must be a configuration error, got %v", err)
	}

	if err := New("milvus", &fakeClient{hasErr: errors.New("connection refused")}, Config{}).Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}

func TestConnect_RequiresAddress(t *testing.T) {
	if _, err := Connect(context.Background(), "milvus", Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
